// Package reader supplies the scanner with input.
//
// A barcode reader is usually a separate program (an evdev decoder, a serial
// bridge) that prints one code per line. Manager runs such a command, restarts
// it when it dies and stops it with SIGTERM, escalating to SIGKILL. Source
// turns its output into an io.Reader, falling back to stdin when no command
// is configured.
//
//	src, err := reader.Open(ctx, cfg.Reader, logger)
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//	go scanner.Run(ctx, src)
package reader
