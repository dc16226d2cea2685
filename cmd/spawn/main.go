package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const USER_ID = "spawn-cli"

type spawnedInstance struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Address string `json:"address"`
}

type spawner struct {
	client  *http.Client
	baseURL string
}

func (s *spawner) do(ctx context.Context, method string, path string, body []byte, expectedStatus int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to construct request: %w", err)
	}
	req.Header.Set("X-User-Id", USER_ID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != expectedStatus {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// spawnRow instantiates count instances of key laid out in a row along the x axis.
//
// If any spawn fails, the instances that were created are released before returning.
func (s *spawner) spawnRow(ctx context.Context, key domain.Key, count int, spacing float64, concurrency int) ([]spawnedInstance, error) {
	instances := make([]spawnedInstance, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range count {
		g.Go(func() error {
			placement := domain.Placement{
				Position: [3]float64{float64(i) * spacing, 0, 0},
				Rotation: domain.IdentityRotation,
			}
			body, err := json.Marshal(placement)
			if err != nil {
				return fmt.Errorf("failed to marshal placement: %w", err)
			}

			data, err := s.do(gctx, http.MethodPost, "/v1/instances/"+url.PathEscape(key.String()), body, http.StatusCreated)
			if err != nil {
				return fmt.Errorf("failed to spawn instance %d: %w", i, err)
			}
			if err := json.Unmarshal(data, &instances[i]); err != nil {
				return fmt.Errorf("failed to parse instance %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		created := make([]spawnedInstance, 0, count)
		for _, instance := range instances {
			if instance.ID != "" {
				created = append(created, instance)
			}
		}
		if releaseErr := s.releaseAll(ctx, created, concurrency); releaseErr != nil {
			return nil, errors.Join(err, releaseErr)
		}
		return nil, err
	}
	return instances, nil
}

// releaseAll returns every instance to the service, continuing past failures
func (s *spawner) releaseAll(ctx context.Context, instances []spawnedInstance, concurrency int) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, instance := range instances {
		g.Go(func() error {
			_, err := s.do(ctx, http.MethodDelete, "/v1/instances/"+instance.ID, nil, http.StatusNoContent)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("failed to release %d of %d instances: %w", len(errs), len(instances), errs[0])
	}
	return nil
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "stockpile base url")
	rawKey := flag.String("key", "", "asset key, e.g. label:cards or prefabs/card.png")
	count := flag.Int("n", 10, "number of instances to spawn")
	spacing := flag.Float64("spacing", 1.5, "distance between instances")
	concurrency := flag.Int("concurrency", 4, "concurrent requests")
	hold := flag.Duration("hold", 0, "how long to keep the instances before releasing them")
	release := flag.Bool("release", true, "release the instances before exiting")
	flag.Parse()

	logger := logging.NewServiceLogger(os.Stdout, slog.LevelInfo).With("command", "spawn")

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	key, err := domain.ParseKey(*rawKey)
	if err != nil {
		fail("Invalid key", "error", err.Error())
	}
	if *count <= 0 || *concurrency <= 0 {
		fail("n and concurrency must be positive")
	}

	s := &spawner{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: *baseURL,
	}

	ctx := context.Background()

	start := time.Now()
	instances, err := s.spawnRow(ctx, key, *count, *spacing, *concurrency)
	if err != nil {
		fail("Failed to spawn", "error", err.Error())
	}
	logger.Info("Spawned instances", "count", len(instances), "key", key.String(), "duration", time.Since(start).String())

	if *hold > 0 {
		time.Sleep(*hold)
	}

	if !*release {
		for _, instance := range instances {
			fmt.Println(instance.ID)
		}
		return
	}

	if err := s.releaseAll(ctx, instances, *concurrency); err != nil {
		fail("Failed to release", "error", err.Error())
	}
	logger.Info("Released instances", "count", len(instances))
}
