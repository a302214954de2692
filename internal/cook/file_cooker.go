package cook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spaolacci/murmur3"
	"gopkg.in/yaml.v3"

	"github.com/cookfarm/cookfarm/internal/content"
	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
)

// ManifestSuffix is appended to a target's path to name its cooked output
const ManifestSuffix = ".cooked.yaml"

// FileCooker treats every source file as a texture: it derives a mip chain
// by halving the byte stream and stores each level as a payload.
type FileCooker struct {
	SourceRoot string
	OutputRoot string
	Version    string
	MinMipSize int
	Store      string

	fsu *utils.FileSystemUtils
}

// NewFileCooker creates a cooker from the farm configuration
func NewFileCooker(cfg *types.FarmConfig) *FileCooker {
	return &FileCooker{
		SourceRoot: cfg.SourceRoot,
		OutputRoot: cfg.OutputRoot,
		Version:    cfg.CookerVersion,
		MinMipSize: cfg.MinMipSize,
		Store:      cfg.StoreName(),
		fsu:        utils.NewFileSystemUtils(),
	}
}

// Manifest is the cooked output of one target
type Manifest struct {
	Target   string          `yaml:"target"`
	Hash     string          `yaml:"hash"`
	Version  string          `yaml:"version"`
	Source   time.Time       `yaml:"sourceModified"`
	Payloads []ManifestEntry `yaml:"payloads"`
}

// ManifestEntry locates one payload in the authoritative stores
type ManifestEntry struct {
	Key      string `yaml:"key"`
	Store    string `yaml:"store"`
	Offset   int64  `yaml:"offset"`
	Size     int64  `yaml:"size"`
	Elements int64  `yaml:"elements"`
}

// ManifestPath returns where the output of job is written
func (c *FileCooker) ManifestPath(job types.Job) string {
	return filepath.Join(c.OutputRoot, filepath.FromSlash(job.String())+ManifestSuffix)
}

// ContentHash returns the hash recorded for a source file's bytes
func ContentHash(data []byte) string {
	return fmt.Sprintf("%016x", murmur3.Sum64(data))
}

// Identity returns the stable identity of every payload a job produces
func Identity(job types.Job) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(job)))
}

// Cook implements Cooker
func (c *FileCooker) Cook(ctx context.Context, job types.Job, env *Env) (*Result, error) {
	src := filepath.Join(c.SourceRoot, filepath.FromSlash(job.String()))
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat source %s: %w", job, err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", job, err)
	}

	target := job.String()
	hash := ContentHash(data)
	if c.upToDate(job, env.View, hash) {
		return &Result{Job: job, Skipped: true, Keys: env.View.KeysForTarget(target)}, nil
	}

	identity := Identity(job)
	levels := MipChain(data, c.MinMipSize)
	keys := make([]string, 0, len(levels))
	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := metadata.QualifiedKey(target, "P"+strconv.Itoa(i))
		p := content.Payload{
			Data:         level,
			Identity:     identity,
			ElementCount: int64(len(level)),
			Flags:        uint32(i),
		}
		if _, err := env.Stage(c.Store, key, p); err != nil {
			return nil, fmt.Errorf("stage %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	// a shorter chain leaves the old tail levels behind
	staged := make(map[string]bool, len(keys))
	for _, key := range keys {
		staged[key] = true
	}
	for _, key := range env.View.KeysForTarget(target) {
		if !staged[key] {
			env.Drop(key)
		}
	}

	env.View.SetTimestamp(target, info.ModTime())
	env.View.SetVersion(target, c.Version)
	env.View.SetHash(target, hash)

	return &Result{Job: job, Keys: keys}, nil
}

func (c *FileCooker) upToDate(job types.Job, view metadata.View, hash string) bool {
	target := job.String()
	if h, ok := view.Hash(target); !ok || h != hash {
		return false
	}
	if v, ok := view.Version(target); !ok || v != c.Version {
		return false
	}
	// the table may be ahead of output a failed run never wrote
	m, err := LoadManifest(c.ManifestPath(job))
	if err != nil {
		return false
	}
	return m.Hash == hash && m.Version == c.Version
}

// Persist implements Cooker
func (c *FileCooker) Persist(ctx context.Context, job types.Job, res *Result, view metadata.View) error {
	if res == nil || res.Skipped {
		return nil
	}
	if err := CheckCanonical(view, res.Keys); err != nil {
		return fmt.Errorf("persist %s: %w", job, err)
	}

	target := job.String()
	m := Manifest{Target: target}
	m.Hash, _ = view.Hash(target)
	m.Version, _ = view.Version(target)
	m.Source, _ = view.Timestamp(target)

	for _, key := range res.Keys {
		rec, ok := view.Lookup(key)
		if !ok {
			return fmt.Errorf("persist %s: no record for %s", job, key)
		}
		m.Payloads = append(m.Payloads, ManifestEntry{
			Key:      key,
			Store:    rec.Store,
			Offset:   rec.Offset,
			Size:     rec.Size,
			Elements: rec.ElementCount,
		})
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal manifest for %s: %w", job, err)
	}
	return c.fsu.WriteFile(c.ManifestPath(job), data)
}

// LoadManifest reads a written manifest
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// MipChain returns data followed by successively halved levels. Each level
// averages adjacent byte pairs of the previous one; halving stops once a
// level is no larger than minSize or has fewer than two bytes.
func MipChain(data []byte, minSize int) [][]byte {
	if minSize < 1 {
		minSize = 1
	}
	levels := [][]byte{data}
	cur := data
	for len(cur) > minSize && len(cur) >= 2 {
		next := make([]byte, len(cur)/2)
		for i := range next {
			next[i] = byte((uint16(cur[2*i]) + uint16(cur[2*i+1])) / 2)
		}
		levels = append(levels, next)
		cur = next
	}
	return levels
}
