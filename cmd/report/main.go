package main

import (
	"flag"
	"log"

	"github.com/bahdotsh/dbug/debugger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	reportJsonFile := flag.String("json", "dbugreport.json", "File to read session details from")
	reportChartsFile := flag.String("charts", "dbugreport.png", "File to output session overview chart image")
	flag.Parse()

	report, err := debugger.ReadReportFile(*reportJsonFile)
	if err != nil {
		log.Fatalf("Failed to read report: %v", err)
	}
	if err := debugger.WriteReportChart(*reportChartsFile, report); err != nil {
		log.Fatalf("Failed to write chart: %v", err)
	}
	log.Println("Report file wrote: " + *reportChartsFile)
}
