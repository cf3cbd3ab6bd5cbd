// Package tlmt sends anonymous usage events: which run mode started and how
// many routes a batch computed. Nothing about the references themselves
// leaves the process.
package tlmt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

var (
	once       sync.Once
	identifier machineIdentifier

	// ipEndpoints answer a GET with the caller's public address.
	ipEndpoints = []string{
		"https://api.ipify.org",
		"https://ifconfig.me",
		"https://icanhazip.com",
		"https://ident.me",
	}
)

type Event struct {
	AnonymousID string
	Name        string
	Properties  map[string]any
}

// NewEvent builds an event carrying the host metadata plus props. props win
// over host metadata on key clashes.
func NewEvent(name string, props map[string]any) Event {
	id := generateMachineID()

	ev := Event{
		AnonymousID: id.id,
		Name:        name,
		Properties:  make(map[string]any, len(id.meta)+len(props)),
	}

	for k, v := range id.meta {
		ev.Properties[k] = v
	}

	for k, v := range props {
		ev.Properties[k] = v
	}

	return ev
}

// NewStartEvent reports the run mode a process started in.
func NewStartEvent(mode string) Event {
	return NewEvent("courier_routes_start", map[string]any{
		"mode":    mode,
		"version": runtime.Version(),
	})
}

// NewBatchEvent reports the outcome counts of a batch run.
func NewBatchEvent(computed, failed, skipped int, elapsed time.Duration, err error) Event {
	props := map[string]any{
		"computed": computed,
		"failed":   failed,
		"skipped":  skipped,
		"duration": elapsed.String(),
	}

	if err != nil {
		props["error"] = err.Error()
	}

	return NewEvent("courier_routes_batch", props)
}

type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

type machineIdentifier struct {
	id   string
	meta map[string]any
}

func generateMachineID() machineIdentifier {
	once.Do(func() {
		identifier = newMachineIdentifier(fetchExternalIP(ipEndpoints))
	})

	return identifier
}

func newMachineIdentifier(ip string) machineIdentifier {
	if ip == "" {
		ip = uuid.New().String()
	}

	hash := sha256.New()
	hash.Write([]byte(ip))
	hash.Write([]byte(runtime.GOARCH))
	hash.Write([]byte(runtime.GOOS))

	meta := map[string]any{
		"arch": runtime.GOARCH,
	}

	if info, err := host.Info(); err == nil {
		meta["os"] = info.OS
		meta["platform"] = info.Platform
		meta["platform_family"] = info.PlatformFamily
		meta["platform_version"] = info.PlatformVersion
	}

	return machineIdentifier{
		id:   fmt.Sprintf("%x", hash.Sum(nil)),
		meta: meta,
	}
}

// fetchExternalIP asks the endpoints in random order and returns the first
// answer, or "" when none replies.
func fetchExternalIP(endpoints []string) string {
	endpoints = append([]string(nil), endpoints...)

	rand.Shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})

	client := http.Client{
		Timeout: 5 * time.Second,
	}

	for _, endpoint := range endpoints {
		if ip := fetchOne(&client, endpoint); ip != "" {
			return ip
		}
	}

	return ""
}

func fetchOne(client *http.Client, u string) string {
	req, err := http.NewRequest(http.MethodGet, u, http.NoBody)
	if err != nil {
		return ""
	}

	resp, err := client.Do(req)
	if err != nil {
		return ""
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	ip, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(ip))
}
