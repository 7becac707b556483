package instances

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"rustfs-bench/bench"
)

// Endpoint identifies the bucket under test and how to authenticate to it.
type Endpoint struct {
	URL       string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// CLIInvoker performs each operation by running the object storage command
// line client once, e.g. `aws --endpoint-url <url> s3 cp ...`.
type CLIInvoker struct {
	tool           string
	endpoint       Endpoint
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewCLIInvoker creates an invoker that shells out to tool.
func NewCLIInvoker(tool string, endpoint Endpoint, connectTimeout, readTimeout time.Duration) *CLIInvoker {
	return &CLIInvoker{
		tool:           tool,
		endpoint:       endpoint,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
	}
}

// Invoke runs one client command and reports whether it exited cleanly.
func (c *CLIInvoker) Invoke(ctx context.Context, req bench.Request) bench.Result {
	args, err := c.argsFor(req)
	if err != nil {
		return bench.Failed(0, err)
	}

	start := time.Now()
	err = c.run(ctx, args)
	elapsed := time.Since(start)
	if err != nil {
		return bench.Failed(elapsed, fmt.Errorf("%s %s: %w", req.Kind, req.Key, err))
	}

	return bench.Succeeded(elapsed, transferredBytes(req))
}

// CreateBucket creates the bucket with `s3 mb`.
func (c *CLIInvoker) CreateBucket(ctx context.Context) error {
	args := c.globalArgs()
	args = append(args, "s3", "mb", c.bucketURI(""))
	if err := c.run(ctx, args); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.endpoint.Bucket, err)
	}
	return nil
}

func (c *CLIInvoker) run(ctx context.Context, args []string) error {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.tool, args...)
	cmd.Env = append(os.Environ(), c.env()...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	return nil
}

func (c *CLIInvoker) env() []string {
	return []string{
		"AWS_ACCESS_KEY_ID=" + c.endpoint.AccessKey,
		"AWS_SECRET_ACCESS_KEY=" + c.endpoint.SecretKey,
		"AWS_DEFAULT_REGION=" + c.endpoint.Region,
	}
}

func (c *CLIInvoker) globalArgs() []string {
	args := []string{"--endpoint-url", c.endpoint.URL}
	if c.connectTimeout > 0 {
		args = append(args, "--cli-connect-timeout", seconds(c.connectTimeout))
	}
	if c.readTimeout > 0 {
		args = append(args, "--cli-read-timeout", seconds(c.readTimeout))
	}
	return args
}

func (c *CLIInvoker) argsFor(req bench.Request) ([]string, error) {
	args := c.globalArgs()
	switch req.Kind {
	case bench.KindPut, bench.KindBatch:
		args = append(args, "s3", "cp", "--no-progress", req.LocalPath, c.bucketURI(req.Key))
	case bench.KindGet:
		args = append(args, "s3", "cp", "--no-progress", c.bucketURI(req.Key), req.LocalPath)
	case bench.KindList:
		args = append(args, "s3", "ls", c.bucketURI(req.Key))
	case bench.KindDelete:
		args = append(args, "s3", "rm", c.bucketURI(req.Key))
	default:
		return nil, fmt.Errorf("unsupported operation kind: %s", req.Kind)
	}
	return args, nil
}

func (c *CLIInvoker) bucketURI(key string) string {
	return "s3://" + c.endpoint.Bucket + "/" + key
}

// transferredBytes reports the payload size for uploads and downloads.
func transferredBytes(req bench.Request) int64 {
	switch req.Kind {
	case bench.KindPut, bench.KindBatch, bench.KindGet:
		if info, err := os.Stat(req.LocalPath); err == nil {
			return info.Size()
		}
	}
	return 0
}

// seconds renders a timeout for the CLI, where 0 disables the bound. Any
// positive duration rounds up to at least one second.
func seconds(d time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
