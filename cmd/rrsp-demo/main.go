// Command rrsp-demo wires an RRSP (ranging data responder) against an
// in-memory simulated central, feeds it a few fake Channel Sounding
// procedures, fetches one of them, and prints the attribute table and then
// the buffer pool's state once the fetch is done.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nordic-ras/ras/gattsim"
	"github.com/nordic-ras/ras/ras"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	peripheral := gattsim.NewPeripheral()
	svc := ras.NewRangingService()
	peripheral.AddService(svc)
	peripheral.Start()

	fmt.Println(peripheral.Attributes())

	pool := ras.NewRdBufferPool(ras.DefaultPoolConfig(), logger)
	server := ras.NewRrspServer(peripheral, svc, pool, ras.DefaultRrspConfig(), logger)

	link := peripheral.Connect()
	server.OnConnected(link)
	defer server.OnDisconnected(link)

	client := ras.NewRreqClient(link, logger)
	defer client.Close()

	producer := server.Producer()
	for counter := uint16(0); counter < 3; counter++ {
		producer.OnSubevent(link, ras.SubeventResult{
			ProcedureCounter: counter,
			ConfigID:         0,
			RangingDoneStatus: ras.DoneStatusComplete,
			NumStepsReported:  1,
			Steps: []ras.StepRecord{
				{Mode: 1, Data: []byte{byte(counter), byte(counter + 1)}},
			},
		})
		log.Printf("rrsp-demo: procedure %d marked ready", counter)
	}

	done := make(chan ras.RangingDataResult, 1)
	if err := client.Core().GetRangingData(2, func(r ras.RangingDataResult) { done <- r }); err != nil {
		log.Fatalf("rrsp-demo: GetRangingData: %v", err)
	}

	select {
	case r := <-done:
		if r.Err != nil {
			log.Fatalf("rrsp-demo: get failed: %v", r.Err)
		}
		log.Printf("rrsp-demo: fetched procedure %d, %d bytes of ranging data", r.RangingCounter, len(r.Data))
	case <-time.After(5 * time.Second):
		log.Fatal("rrsp-demo: timed out waiting for ranging data")
	}

	stats := pool.Stats()
	log.Printf("rrsp-demo: pool stats: %d total slots, %d free", stats.TotalSlots, stats.FreeSlots)
}
