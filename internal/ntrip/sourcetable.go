package ntrip

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Stream is one STR record of a caster source table.
type Stream struct {
	Mountpoint     string  `json:"mountpoint"`
	Identifier     string  `json:"identifier"`
	Format         string  `json:"format"`
	FormatDetails  string  `json:"format_details"`
	Carrier        int     `json:"carrier"`
	NavSystem      string  `json:"nav_system"`
	Network        string  `json:"network"`
	Country        string  `json:"country"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	NMEA           bool    `json:"nmea"`
	Solution       int     `json:"solution"`
	Generator      string  `json:"generator"`
	Compression    string  `json:"compression"`
	Authentication string  `json:"authentication"`
	Fee            bool    `json:"fee"`
	Bitrate        int     `json:"bitrate"`
}

// SourceTable fetches the caster's table and returns its STR records.
func (c *Client) SourceTable(ctx context.Context) ([]Stream, error) {
	conn, body, err := c.open(ctx, "/")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	return ParseSourceTable(body)
}

// ParseSourceTable reads until ENDSOURCETABLE or EOF. CAS and NET records
// are skipped.
func ParseSourceTable(r io.Reader) ([]Stream, error) {
	var out []Stream
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "ENDSOURCETABLE" {
			return out, nil
		}
		if !strings.HasPrefix(line, "STR;") {
			continue
		}
		s, err := parseSTR(line)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("ntrip: read source table: %w", err)
	}
	return out, nil
}

func parseSTR(line string) (Stream, error) {
	f := strings.Split(line, ";")
	if len(f) < 4 {
		return Stream{}, fmt.Errorf("ntrip: short STR record %q", line)
	}
	get := func(i int) string {
		if i < len(f) {
			return strings.TrimSpace(f[i])
		}
		return ""
	}
	atoi := func(i int) int {
		n, _ := strconv.Atoi(get(i))
		return n
	}
	atof := func(i int) float64 {
		v, _ := strconv.ParseFloat(get(i), 64)
		return v
	}
	return Stream{
		Mountpoint:     get(1),
		Identifier:     get(2),
		Format:         get(3),
		FormatDetails:  get(4),
		Carrier:        atoi(5),
		NavSystem:      get(6),
		Network:        get(7),
		Country:        get(8),
		Latitude:       atof(9),
		Longitude:      atof(10),
		NMEA:           get(11) == "1",
		Solution:       atoi(12),
		Generator:      get(13),
		Compression:    get(14),
		Authentication: get(15),
		Fee:            strings.EqualFold(get(16), "Y"),
		Bitrate:        atoi(17),
	}, nil
}
