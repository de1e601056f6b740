package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"casewatch/internal/jobstate"
)

// CommandClassifier runs an external program once per image. The program is
// invoked as argv... <image path> and must print a JSON list of
// [label, score] pairs on stdout. A first pair labelled "ERROR" reports a
// failure with the second element as the message.
type CommandClassifier struct {
	argv    []string
	topK    int
	timeout time.Duration
	tempDir string
}

// NewCommandClassifier returns a classifier running argv. A zero timeout
// leaves the deadline to the caller's context.
func NewCommandClassifier(argv []string, topK int, timeout time.Duration) (*CommandClassifier, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("classifier command is empty")
	}
	return &CommandClassifier{
		argv:    append([]string(nil), argv...),
		topK:    topK,
		timeout: timeout,
	}, nil
}

// Classify runs the command on the image. When image is an *os.File its path
// is passed directly; other readers are spooled to a temporary file first.
func (c *CommandClassifier) Classify(ctx context.Context, unitID string, image io.Reader) ([]jobstate.Classification, error) {
	path, cleanup, err := c.imagePath(image)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.argv[1:]...), path)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("classifier command: %w", err)
		}
		return nil, fmt.Errorf("classifier command: %w: %s", err, lastLine(msg))
	}

	classes, err := ParsePairs(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("classifier command output for %s: %w", unitID, err)
	}
	return TopK(classes, c.topK), nil
}

func (c *CommandClassifier) imagePath(image io.Reader) (string, func(), error) {
	if f, ok := image.(*os.File); ok {
		return f.Name(), func() {}, nil
	}
	tmp, err := os.CreateTemp(c.tempDir, "casewatch-image-*.jpg")
	if err != nil {
		return "", nil, fmt.Errorf("spool image: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, image); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("spool image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("spool image: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

// ParsePairs decodes [["label", score], ...] where score is a number or a
// numeric string.
func ParsePairs(data []byte) ([]jobstate.Classification, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	dec.UseNumber()
	var pairs [][]any
	if err := dec.Decode(&pairs); err != nil {
		return nil, fmt.Errorf("decode pairs: %w", err)
	}
	classes := make([]jobstate.Classification, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("pair %d has %d elements, want 2", i, len(pair))
		}
		label, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("pair %d label is %T, want string", i, pair[0])
		}
		if label == jobstate.FailureLabel {
			return nil, errors.New(fmt.Sprint(pair[1]))
		}
		var text string
		switch v := pair[1].(type) {
		case json.Number:
			text = v.String()
		case string:
			text = v
		default:
			return nil, fmt.Errorf("pair %d score is %T", i, pair[1])
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("pair %d score %q: %w", i, text, err)
		}
		classes = append(classes, jobstate.Classification{Label: label, Score: score})
	}
	return classes, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
