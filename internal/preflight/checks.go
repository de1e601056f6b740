package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"casewatch/internal/classifier"
	"casewatch/internal/restapi"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckClassifierService verifies that the classification service answers its
// health endpoint.
func CheckClassifierService(ctx context.Context, baseURL string) Result {
	const name = "Classifier service"

	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := classifier.NewHTTPClient(baseURL)
	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: baseURL + " (healthy)"}
}

// CheckClassifierCommand verifies that the local classifier executable resolves.
func CheckClassifierCommand(argv []string) Result {
	const name = "Classifier command"

	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not found)", argv[0])}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckRESTService verifies that the case-management service reports healthy.
func CheckRESTService(ctx context.Context, cfg restapi.Config) Result {
	const name = "Case service"

	if strings.TrimSpace(cfg.ServiceURL) == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	cfg.Timeout = checkTimeout
	cfg.RequestsPerSecond = 0
	client := restapi.NewClient(cfg)
	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// summarizeError produces a human-readable summary for health check failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (service unreachable)"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("unreachable (%v)", opErr.Err)
	}
	return err.Error()
}
