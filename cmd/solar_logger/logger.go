// Command solar_logger copies the solar_drive status stream into InfluxDB.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	client := influxdb2.NewClient(getenv("INFLUX_SERVER", "http://localhost:9999"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(getenv("INFLUX_ORG", "w1xm"), getenv("INFLUX_BUCKET", "solar.raw"))
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("write error: %v", err)
		}
	}()
	url := getenv("SOLAR_ADDRESS", "ws://localhost:8502/api/ws")
	for {
		if err := logData(url, writeApi); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns nested JSON into dotted field names.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		if prefix != "" {
			fields[prefix[1:]] = status
		}
	}
}

// statusTime uses the server's timestamp when it has one.
func statusTime(fields map[string]interface{}) time.Time {
	if s, ok := fields["time"].(string); ok {
		delete(fields, "time")
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Now()
}

func logData(url string, writeApi api.WriteApi) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		ts := statusTime(fields)
		if len(fields) == 0 {
			continue
		}

		// write asynchronously
		writeApi.WritePoint(influxdb2.NewPoint("solar.status", nil, fields, ts))
	}
}
