// Package gps talks to a u-blox ZED-F9P/F9R receiver over a serial port.
//
// The read path is a pipeline owned by one goroutine:
//   - Scanner splits the byte stream into UBX and NMEA frames
//   - Decode turns frames into typed records
//   - Handler folds records into a Store of named fields
//
// Service ties these together with the Configurator, which sends the UBX
// configuration sequence and matches ACK/NAK replies, and exposes a single
// serialized write path for correction data.
package gps
