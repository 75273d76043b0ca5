package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
)

// Scraper reads the expvar endpoint of a Deskline server and extracts the
// configured metrics from it.
type Scraper struct {
	address string
	metrics []string
}

var errKeyNotFound = errors.New("key not found")

// Scrape fetches the expvar document and decodes it as-is.
func (s *Scraper) Scrape() (map[string]interface{}, error) {
	resp, err := http.Get(s.address)
	if err != nil {
		log.Println("Failed to connect to server", err)
		return nil, err
	}
	defer resp.Body.Close()

	var stats map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&stats)
	return stats, err
}

// CollectRaw scrapes the server and flattens the configured metrics into a
// single map. Metrics missing from the response are reported as 0.
func (s *Scraper) CollectRaw() (map[string]float64, error) {
	stats, err := s.Scrape()
	if err != nil {
		log.Println("Failed to fetch or parse response", err)
		return nil, err
	}

	metrics := make(map[string]float64, len(s.metrics)+1)
	for _, key := range s.metrics {
		value, err := numericAt(stats, key)
		if err == errKeyNotFound {
			value = 0
		} else if err != nil {
			return nil, err
		}
		metrics[key] = value
	}
	metrics["up"] = 1
	return metrics, nil
}

// numericAt descends into the document along a dot-separated path and returns
// the float64 at the end of it.
func numericAt(stats map[string]interface{}, path string) (float64, error) {
	var value interface{} = stats
	for _, part := range strings.Split(path, ".") {
		subset, ok := value.(map[string]interface{})
		if !ok {
			log.Println("Invalid key path:", path)
			return 0, errKeyNotFound
		}
		if value, ok = subset[part]; !ok {
			log.Println("Invalid key path:", path, "(", part, ")")
			return 0, errKeyNotFound
		}
	}

	floatval, ok := value.(float64)
	if !ok {
		log.Println("Value at path is not a float64:", path, value)
		return 0, errKeyNotFound
	}
	return floatval, nil
}
