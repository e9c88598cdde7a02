package sysstate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/tracing"
)

// p0Labels are the issue labels treated as live incidents.
var p0Labels = []string{"priority:p0", "critical", "P0"}

const githubAPI = "https://api.github.com"

func probeClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: tracing.HTTPTransport(nil),
	}
}

// ServerHealthProbe reports server_degraded when the health URL does not
// answer 200.
func ServerHealthProbe(url string) Probe {
	client := probeClient()
	return func(ctx context.Context) (bool, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return true, "health endpoint unreachable", nil // unreachable server is the condition itself
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return true, fmt.Sprintf("health endpoint answered %d", resp.StatusCode), nil
		}
		return false, "", nil
	}
}

// CIProbe reports ci_broken when the combined status of the branch HEAD
// is "failure". repo is "owner/name".
func CIProbe(repo, branch, token string) Probe {
	return ciProbe(githubAPI, repo, branch, token)
}

func ciProbe(api, repo, branch, token string) Probe {
	client := probeClient()
	return func(ctx context.Context) (bool, string, error) {
		url := fmt.Sprintf("%s/repos/%s/commits/%s/status", api, repo, branch)
		var result struct {
			State string `json:"state"`
		}
		if err := getJSON(ctx, client, url, token, &result); err != nil {
			return false, "", err
		}
		if result.State == "failure" {
			return true, fmt.Sprintf("combined status for %s@%s is failure", repo, branch), nil
		}
		return false, "", nil
	}
}

// P0Probe reports p0_open when any open issue carries one of the incident
// labels.
func P0Probe(repo, token string) Probe {
	return p0Probe(githubAPI, repo, token)
}

func p0Probe(api, repo, token string) Probe {
	client := probeClient()
	return func(ctx context.Context) (bool, string, error) {
		for _, label := range p0Labels {
			url := fmt.Sprintf("%s/repos/%s/issues?state=open&per_page=1&labels=%s", api, repo, label)
			var issues []json.RawMessage
			if err := getJSON(ctx, client, url, token, &issues); err != nil {
				return false, "", err
			}
			if len(issues) > 0 {
				return true, fmt.Sprintf("open issue labeled %q in %s", label, repo), nil
			}
		}
		return false, "", nil
	}
}

// DiskPressureProbe reports disk_pressure when the filesystem holding path
// is at least 90% full.
func DiskPressureProbe(path string) Probe {
	return func(_ context.Context) (bool, string, error) {
		var fs syscall.Statfs_t
		if err := syscall.Statfs(path, &fs); err != nil {
			return false, "", fmt.Errorf("statfs %s: %w", path, err)
		}
		if fs.Blocks == 0 {
			return false, "", nil
		}
		used := float64(fs.Blocks-fs.Bavail) / float64(fs.Blocks)
		if used >= 0.9 {
			return true, fmt.Sprintf("%s is %.0f%% full", path, used*100), nil
		}
		return false, "", nil
	}
}

func getJSON(ctx context.Context, client *http.Client, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github API status %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
