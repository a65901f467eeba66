// Command rreq-demo wires an RREQ (ranging data requestor) against an
// in-memory simulated peripheral, watches the buffer pool's ready callback,
// and fetches the data as soon as it appears.
package main

import (
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

	pool := ras.NewRdBufferPool(ras.DefaultPoolConfig(), logger)
	server := ras.NewRrspServer(peripheral, svc, pool, ras.DefaultRrspConfig(), logger)

	link := peripheral.Connect()
	server.OnConnected(link)
	defer server.OnDisconnected(link)

	client := ras.NewRreqClient(link, logger)
	defer client.Close()

	ready := make(chan uint16, 8)
	pool.RegisterCallbacks(ras.BufferPoolCallbacks{
		OnReady: func(conn ras.ConnID, counter uint16) {
			log.Printf("rreq-demo: procedure %d is ready", counter)
			ready <- counter
		},
	})

	go func() {
		producer := server.Producer()
		for counter := uint16(0); counter < 3; counter++ {
			time.Sleep(50 * time.Millisecond)
			producer.OnSubevent(link, ras.SubeventResult{
				ProcedureCounter:  counter,
				RangingDoneStatus: ras.DoneStatusComplete,
				NumStepsReported:  1,
				Steps: []ras.StepRecord{
					{Mode: 1, Data: []byte{byte(counter)}},
				},
			})
		}
	}()

	fetched := 0
	for fetched < 3 {
		select {
		case counter := <-ready:
			done := make(chan ras.RangingDataResult, 1)
			if err := client.Core().GetRangingData(counter, func(r ras.RangingDataResult) { done <- r }); err != nil {
				log.Printf("rreq-demo: GetRangingData(%d): %v", counter, err)
				continue
			}
			r := <-done
			if r.Err != nil {
				log.Printf("rreq-demo: procedure %d failed: %v", counter, r.Err)
				continue
			}
			log.Printf("rreq-demo: procedure %d delivered %d bytes", r.RangingCounter, len(r.Data))
			fetched++
		case <-time.After(5 * time.Second):
			log.Fatal("rreq-demo: timed out waiting for ranging data")
		}
	}
}
