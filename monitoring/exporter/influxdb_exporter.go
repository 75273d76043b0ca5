package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// InfluxDBExporter periodically scrapes a Deskline server and writes the
// metrics to InfluxDB using the line protocol.
type InfluxDBExporter struct {
	targetAddress string
	organization  string
	bucket        string
	tokenHeader   string
	instance      string
	scraper       *Scraper
}

// NewInfluxDBExporter returns an initialized InfluxDB exporter.
func NewInfluxDBExporter(influxDBVersion, pushBaseAddress, organization,
	bucket, token, instance string, scraper *Scraper) *InfluxDBExporter {

	return &InfluxDBExporter{
		targetAddress: pushTargetAddress(influxDBVersion, pushBaseAddress, organization, bucket),
		organization:  organization,
		bucket:        bucket,
		tokenHeader:   authorizationHeader(influxDBVersion, token),
		instance:      instance,
		scraper:       scraper,
	}
}

// Push scrapes the server once and writes the collected metrics to InfluxDB.
func (e *InfluxDBExporter) Push() error {
	metrics, err := e.scraper.CollectRaw()
	if err != nil {
		return err
	}

	body := new(bytes.Buffer)
	ts := time.Now().UnixNano()
	for k, v := range metrics {
		fmt.Fprintf(body, "%s,instance=%s value=%f %d\n", k, e.instance, v, ts)
	}

	req, err := http.NewRequest(http.MethodPost, e.targetAddress, body)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", e.tokenHeader)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var detail string
		if rb, err := io.ReadAll(resp.Body); err != nil {
			detail = err.Error()
		} else {
			detail = strings.TrimSpace(string(rb))
		}
		return fmt.Errorf("HTTP %s: %s", resp.Status, detail)
	}
	return nil
}

// pushTargetAddress builds the write endpoint. InfluxDB 2.0 writes to
// /api/v2/write?org=...&bucket=..., 1.7 writes to /write?db=... with no
// bucket parameter.
func pushTargetAddress(influxDBVersion, baseAddr, organization, bucket string) string {
	target, err := url.ParseRequestURI(baseAddr)
	if err != nil {
		log.Fatal("Invalid push_addr", err)
	}

	q := target.Query()
	if influxDBVersion == "1.7" {
		q.Add("db", organization)
	} else {
		q.Add("org", organization)
		q.Add("bucket", bucket)
	}
	target.RawQuery = q.Encode()
	return target.String()
}

// authorizationHeader formats the auth token. 2.0 expects "Token <token>",
// 1.7 expects "Bearer <token>".
func authorizationHeader(influxDBVersion, token string) string {
	if influxDBVersion == "2.0" {
		return fmt.Sprintf("Token %s", token)
	}
	return fmt.Sprintf("Bearer %s", token)
}
