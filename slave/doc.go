// Package slave implements the master side of the Vendista "Slave" protocol:
// the vending controller polls a payment terminal over a serial line and the
// terminal answers each request with one frame.
//
// # Wire format
//
// Every frame has the shape
//
//	[start_marker][length][command][sequence][payload...][checksum]
//
// The marker value, the width of the length field, the byte order and the
// checksum algorithm are described by a Layout. DefaultLayout uses STX (0x02),
// a 2-byte little-endian length and the CRC-16 of the Vendista terminal
// firmware (poly 0x8005, init 0xFFFF, xorout 0xFFFF). The checksum covers
// command, sequence and payload.
//
// # Session
//
// Communication is half-duplex. A Terminal keeps at most one request on the
// wire and resolves it before issuing the next one:
//
//	Idle ──begin──▶ AwaitingResponse ──matching reply──▶ Idle
//	                   │   ▲
//	    timeout/crc/seq│   │retry (same frame, same sequence)
//	                   ▼   │
//	             retries exhausted ──▶ Faulted ──successful probe──▶ Idle
//
// Exhausting the retry budget publishes exactly one Error event. While
// Faulted every poll is a single probe; the first valid reply heals the link.
//
// # Events
//
// Decoded business frames are translated into Event values and published to an
// EventQueue supplied by the caller. One queue can be shared by any number of
// terminals; Event.Sender tells them apart.
//
// Example:
//
//	events := slave.NewEventQueue(256, slave.DropOldest)
//	term, err := slave.NewTerminal(transport.DefaultConfig("/dev/ttyUSB0"), events,
//	    slave.WithLogLevel(logger.DebugLevel),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := term.Start(ctx); err != nil {
//	    return err
//	}
//	defer term.Stop()
//
//	for {
//	    ev, err := events.Wait(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Type == slave.EventCardAuthResult && ev.Approved {
//	        // dispense
//	    }
//	}
package slave
