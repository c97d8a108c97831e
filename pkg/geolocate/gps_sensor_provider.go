package geolocate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// GPSSensorProvider reads a single fix from a GPS device connected via
// serial port. It has no internal cache, so the MaximumAge option is
// ignored; HighAccuracy is ignored as well because the device reports
// whatever fix it has.
type GPSSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
}

// NewGPSSensorProvider creates a provider for the given port and baud rate.
func NewGPSSensorProvider(port string, baudRate int) *GPSSensorProvider {
	return &GPSSensorProvider{
		port:     port,
		baudRate: baudRate,
	}
}

// GetPosition reads NMEA sentences until the first valid GGA fix or until
// ctx expires.
func (d *GPSSensorProvider) GetPosition(ctx context.Context, opts PositionOptions) (Coordinates, error) {
	c := &serial.Config{Name: d.port, Baud: d.baudRate}
	s, err := serial.OpenPort(c)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return Coordinates{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Closing the port also unblocks the reader goroutine on timeout.
	defer s.Close()

	type fix struct {
		coords Coordinates
		err    error
	}
	result := make(chan fix, 1)

	go func() {
		scanner := bufio.NewScanner(s)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "$GPGGA") {
				continue
			}
			sentence, err := nmea.Parse(line)
			if err != nil {
				// Garbled sentence; keep reading.
				continue
			}
			if gga, ok := sentence.(nmea.GGA); ok {
				result <- fix{coords: Coordinates{
					Latitude:  gga.Latitude,
					Longitude: gga.Longitude,
				}}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			result <- fix{err: err}
			return
		}
		result <- fix{err: errors.New("no valid GPS data found")}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		return r.coords, nil
	case <-ctx.Done():
		return Coordinates{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Close releases the provider. The port is opened per request, so there is
// nothing to release here.
func (d *GPSSensorProvider) Close() error {
	return nil
}
