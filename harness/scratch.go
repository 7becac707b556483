package harness

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

// Scratch is the on-disk state of one run: server volumes, the upload
// payload and download targets. Everything lives under Root, which embeds
// the run ID so concurrent runs never share volumes.
type Scratch struct {
	Root        string
	Volumes     []string
	PayloadPath string
	DownloadDir string
}

// NewScratch lays out the scratch tree for runID under base.
func NewScratch(base, runID string, volumes int) *Scratch {
	root := filepath.Join(base, runID)
	s := &Scratch{
		Root:        root,
		PayloadPath: filepath.Join(root, "payload", "payload.bin"),
		DownloadDir: filepath.Join(root, "downloads"),
	}
	for i := 1; i <= volumes; i++ {
		s.Volumes = append(s.Volumes, filepath.Join(root, "vol"+strconv.Itoa(i)))
	}
	return s
}

// Provision creates empty volume directories, clearing leftovers from a
// previous run with the same root.
func (s *Scratch) Provision() error {
	if err := os.RemoveAll(s.Root); err != nil {
		return fmt.Errorf("failed to clear scratch root: %w", err)
	}
	dirs := append([]string{filepath.Dir(s.PayloadPath), s.DownloadDir}, s.Volumes...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// WritePayload fills the payload file with size random bytes.
func (s *Scratch) WritePayload(size int64) error {
	file, err := os.Create(s.PayloadPath)
	if err != nil {
		return fmt.Errorf("failed to create payload: %w", err)
	}
	defer file.Close()

	src := rand.New(rand.NewSource(rand.Int63()))
	if _, err := io.CopyN(file, src, size); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return file.Sync()
}

// DownloadPath is the GET target for iteration i.
func (s *Scratch) DownloadPath(i int) string {
	return filepath.Join(s.DownloadDir, "download-"+strconv.Itoa(i))
}

// Remove deletes the whole scratch tree.
func (s *Scratch) Remove() error {
	if err := os.RemoveAll(s.Root); err != nil {
		return fmt.Errorf("failed to remove scratch root %s: %w", s.Root, err)
	}
	return nil
}
