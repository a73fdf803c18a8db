// Command tb_push replays ThingsBoard rule-chain webhooks against the ingest
// endpoint so websocket subscribers see live updates.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"telemetry-ws/internal/auth"
)

type config struct {
	baseURL      string
	secret       string
	tenantID     string
	devicePrefix string
	deviceCount  int
	keys         []string
	interval     time.Duration
	rounds       int
	attributes   bool
}

type payload struct {
	TenantID   string         `json:"tenantId"`
	DeviceID   string         `json:"deviceId"`
	DeviceType string         `json:"deviceType,omitempty"`
	TS         int64          `json:"ts"`
	Values     map[string]any `json:"values,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func main() {
	cfg := parseConfig()
	if cfg.baseURL == "" {
		log.Fatal("base-url is required")
	}
	if cfg.secret == "" {
		log.Fatal("INGEST_HMAC_SECRET is required")
	}
	if cfg.deviceCount <= 0 {
		log.Fatal("device-count must be > 0")
	}
	if len(cfg.keys) == 0 {
		log.Fatal("keys must not be empty")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	ctx := context.Background()
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for round := 0; cfg.rounds <= 0 || round < cfg.rounds; round++ {
		now := time.Now()
		for i := 0; i < cfg.deviceCount; i++ {
			body := buildPayload(cfg, i, round, now)
			if err := push(ctx, client, cfg, body); err != nil {
				log.Printf("push %s: %v", body.DeviceID, err)
			}
		}
		log.Printf("round %d pushed %d devices", round+1, cfg.deviceCount)
		if cfg.rounds > 0 && round+1 >= cfg.rounds {
			break
		}
		<-ticker.C
	}
}

func buildPayload(cfg config, device, round int, now time.Time) payload {
	body := payload{
		TenantID:   cfg.tenantID,
		DeviceID:   fmt.Sprintf("%s%03d", cfg.devicePrefix, device+1),
		DeviceType: "simulated",
		TS:         now.UnixMilli(),
		Values:     make(map[string]any, len(cfg.keys)),
	}
	phase := float64(round)/10 + float64(device)
	for i, key := range cfg.keys {
		value := 20 + 5*math.Sin(phase+float64(i))
		body.Values[key] = math.Round(value*100) / 100
	}
	if cfg.attributes && round == 0 {
		body.Attributes = map[string]any{"fw": "sim-1.0", "active": true}
	}
	return body
}

func push(ctx context.Context, client *http.Client, cfg config, body payload) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.baseURL, "/")+"/ingest/thingsboard/telemetry", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderIngestTimestamp, timestamp)
	req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest([]byte(cfg.secret), timestamp, raw))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func parseConfig() config {
	cfg := config{}
	var keys string
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080"), "service base URL")
	flag.StringVar(&cfg.secret, "secret", envOrDefault("INGEST_HMAC_SECRET", ""), "ingest HMAC secret")
	flag.StringVar(&cfg.tenantID, "tenant-id", envOrDefault("TENANT_ID", "tenant-demo"), "tenant owning the devices")
	flag.StringVar(&cfg.devicePrefix, "device-prefix", envOrDefault("DEVICE_PREFIX", "device-sim-"), "device id prefix")
	flag.IntVar(&cfg.deviceCount, "device-count", envOrInt("DEVICE_COUNT", 3), "number of devices")
	flag.StringVar(&keys, "keys", envOrDefault("KEYS", "temperature,humidity"), "comma separated time series keys")
	flag.DurationVar(&cfg.interval, "interval", 2*time.Second, "delay between rounds")
	flag.IntVar(&cfg.rounds, "rounds", envOrInt("ROUNDS", 0), "rounds to push, 0 runs until interrupted")
	flag.BoolVar(&cfg.attributes, "attributes", envOrBool("PUSH_ATTRIBUTES", true), "send client attributes on the first round")
	flag.Parse()

	for _, key := range strings.Split(keys, ",") {
		if key = strings.TrimSpace(key); key != "" {
			cfg.keys = append(cfg.keys, key)
		}
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
