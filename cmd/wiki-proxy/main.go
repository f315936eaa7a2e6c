package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wikitools/wikiquery/pkg/client"
	"github.com/wikitools/wikiquery/pkg/page"
	"github.com/wikitools/wikiquery/pkg/props"
	"github.com/wikitools/wikiquery/pkg/query"
)

func main() {
	// Configuration from environment
	apiURL := getEnv("WIKI_API_URL", "https://en.wikipedia.org/w/api.php")
	redisURL := getEnv("REDIS_URL", "")
	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "wikiquery-proxy/0.1.0")

	cfg := client.DefaultConfig(apiURL, userAgent)

	// Redis is optional; without it responses are simply not cached.
	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisURL,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Printf("Connected to Redis at %s", redisURL)
		cfg.Redis = redisClient
	}

	wikiClient, err := client.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create wiki client: %v", err)
	}
	defer wikiClient.Close()

	// HTTP Server
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/page/", pageHandler(wikiClient))

	addr := ":" + port
	log.Printf("Starting wiki proxy server on %s", addr)
	log.Printf("Upstream API: %s", apiURL)
	log.Printf("User-Agent: %s", userAgent)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, fmt.Sprintf("Redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// pageHandler serves page properties as JSON.
// Example: /page/Go_(programming_language)/summary
func pageHandler(wikiClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title, propName, ok := splitPagePath(r.URL.Path)
		if !ok {
			http.Error(w, "expected /page/{title}/{property}", http.StatusBadRequest)
			return
		}

		prop, err := lookupProperty(propName)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		p := page.New(wikiClient, query.PageRef{Title: title})
		value, err := p.Get(ctx, prop)
		if err != nil {
			http.Error(w, fmt.Sprintf("wiki request failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"title":    title,
			"property": prop.Name(),
			"value":    value,
		}); err != nil {
			log.Printf("Failed to write response: %v", err)
		}
	}
}

func splitPagePath(path string) (title, prop string, ok bool) {
	rest := strings.TrimPrefix(path, "/page/")
	if rest == path {
		return "", "", false
	}
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func lookupProperty(name string) (props.Property, error) {
	switch name {
	case props.NameContent:
		return props.NewContent(), nil
	case props.NameSummary:
		return props.NewSummary(props.SummaryOptions{}), nil
	case props.NameImages:
		return props.NewImages(), nil
	case props.NameExternalLinks:
		return props.NewExternalLinks(), nil
	default:
		return nil, fmt.Errorf("unknown property %q", name)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
