package writer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"proxyscraper/internal/logger"
	"proxyscraper/pkg/geo"
	"proxyscraper/pkg/scraper"

	"github.com/spf13/afero"
)

const (
	rawDir = "raw"
	// UnknownCountry names the per-country file for proxies whose country could not be resolved.
	UnknownCountry = "unknown"
)

// Resolver looks up the geographic origin of an IP.
type Resolver interface {
	Resolve(ctx context.Context, ip string) geo.Record
}

// Writer persists proxies under a root directory:
//
//	{root}/raw/{protocol}.txt           staged candidates, append-only
//	{root}/{protocol}.txt               validated "host:port country" lines
//	{root}/{protocol}/{country}.txt     validated "host:port" lines per country
//
// Concurrent writers against the same root are not coordinated.
type Writer struct {
	fs       afero.Fs
	root     string
	resolver Resolver
	logger   *logger.Logger
}

// New creates a writer. resolver may be nil, in which case only
// countries already carried by the proxies are used.
func New(fs afero.Fs, root string, resolver Resolver) *Writer {
	return &Writer{
		fs:       fs,
		root:     root,
		resolver: resolver,
		logger:   logger.New("writer"),
	}
}

// SaveRaw appends addresses not yet present in each protocol's staging file.
// It returns the number of files that were written.
func (w *Writer) SaveRaw(ctx context.Context, proxies []scraper.Proxy) int {
	groups := make(map[scraper.Protocol][]string)
	for _, p := range proxies {
		groups[p.Type] = append(groups[p.Type], p.Address())
	}

	written := 0
	for _, protocol := range sortedKeys(groups) {
		if ctx.Err() != nil {
			break
		}

		path := filepath.Join(w.root, rawDir, string(protocol)+".txt")
		added, err := w.appendNew(path, groups[protocol])
		if err != nil {
			w.logger.ErrorBg("Failed to save raw %s proxies to %s: %v", protocol, path, err)
			continue
		}
		if added == 0 {
			continue
		}

		w.logger.InfoBg("Saved %d new raw %s proxies to %s", added, protocol, path)
		written++
	}
	return written
}

// Publish writes the protocol files and the per-country files for one run.
// Each host is resolved at most once across both.
func (w *Writer) Publish(ctx context.Context, proxies []scraper.Proxy) int {
	countries := make(map[string]string)
	return w.saveFinal(ctx, proxies, countries) + w.saveByCountry(ctx, proxies, countries)
}

// SaveFinal overwrites each protocol file with this run's "host:port country" lines.
// An unresolved country leaves the line as "host:port ". A country already
// carried by the proxy takes precedence over the geo resolver.
func (w *Writer) SaveFinal(ctx context.Context, proxies []scraper.Proxy) int {
	return w.saveFinal(ctx, proxies, make(map[string]string))
}

func (w *Writer) saveFinal(ctx context.Context, proxies []scraper.Proxy, countries map[string]string) int {
	groups := make(map[scraper.Protocol][]string)
	for _, p := range proxies {
		code := w.countryOf(ctx, p, countries)
		groups[p.Type] = append(groups[p.Type], p.Address()+" "+code)
	}

	written := 0
	for _, protocol := range sortedKeys(groups) {
		path := filepath.Join(w.root, string(protocol)+".txt")
		lines := dedupSorted(groups[protocol])
		if err := w.replace(path, lines); err != nil {
			w.logger.ErrorBg("Failed to save %s proxies to %s: %v", protocol, path, err)
			continue
		}

		w.logger.InfoBg("Saved %d %s proxies to %s", len(lines), protocol, path)
		written++
	}
	return written
}

// SaveByCountry overwrites {protocol}/{country}.txt for every (protocol, country) group.
// Country precedence is the same as in SaveFinal.
func (w *Writer) SaveByCountry(ctx context.Context, proxies []scraper.Proxy) int {
	return w.saveByCountry(ctx, proxies, make(map[string]string))
}

func (w *Writer) saveByCountry(ctx context.Context, proxies []scraper.Proxy, countries map[string]string) int {
	groups := make(map[string][]string)
	for _, p := range proxies {
		code := w.countryOf(ctx, p, countries)
		if code == "" {
			code = UnknownCountry
		}
		key := filepath.Join(string(p.Type), code+".txt")
		groups[key] = append(groups[key], p.Address())
	}

	written := 0
	for _, key := range sortedKeys(groups) {
		path := filepath.Join(w.root, key)
		lines := dedupSorted(groups[key])
		if err := w.replace(path, lines); err != nil {
			w.logger.ErrorBg("Failed to save proxies to %s: %v", path, err)
			continue
		}

		w.logger.DebugBg("Saved %d proxies to %s", len(lines), path)
		written++
	}

	w.logger.InfoBg("Saved %d per-country files", written)
	return written
}

// LoadRaw reads every staging file back into proxies. The protocol comes from
// the file name; malformed lines are skipped.
func (w *Writer) LoadRaw(ctx context.Context) ([]scraper.Proxy, error) {
	dir := filepath.Join(w.root, rawDir)
	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var proxies []scraper.Proxy
	seen := make(map[string]bool)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}

		protocol, err := scraper.ParseProtocol(strings.TrimSuffix(entry.Name(), ".txt"))
		if err != nil {
			w.logger.WarnBg("Skipping %s: %v", entry.Name(), err)
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := afero.ReadFile(w.fs, path)
		if err != nil {
			w.logger.ErrorBg("Failed to read %s: %v", path, err)
			continue
		}

		malformed := 0
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			p, err := scraper.ParseLine(line, protocol)
			if err != nil {
				malformed++
				continue
			}
			p.Type = protocol
			p.Source = rawDir

			if key := p.Key(); !seen[key] {
				seen[key] = true
				proxies = append(proxies, p)
			}
		}
		if malformed > 0 {
			w.logger.WarnBg("Skipped %d malformed lines in %s", malformed, path)
		}
	}

	return proxies, nil
}

func (w *Writer) countryOf(ctx context.Context, p scraper.Proxy, memo map[string]string) string {
	if p.Country != "" {
		return p.Country
	}
	if code, ok := memo[p.Host]; ok {
		return code
	}

	code := ""
	if w.resolver != nil {
		code = w.resolver.Resolve(ctx, p.Host).CountryCode
	}
	memo[p.Host] = code
	return code
}

// appendNew appends the lines whose first field is not already in the file.
func (w *Writer) appendNew(path string, lines []string) (int, error) {
	existing := make(map[string]bool)
	data, err := afero.ReadFile(w.fs, path)
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			existing[fields[0]] = true
		}
	}

	var fresh []string
	for _, line := range dedupSorted(lines) {
		if !existing[line] {
			fresh = append(fresh, line)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	f, err := w.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, line := range fresh {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return 0, err
	}
	return len(fresh), f.Close()
}

// replace writes lines to a temp file next to path and renames it into place.
func (w *Writer) replace(path string, lines []string) error {
	dir := filepath.Dir(path)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(w.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		w.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		w.fs.Remove(tmpName)
		return err
	}

	if err := w.fs.Rename(tmpName, path); err != nil {
		w.fs.Remove(tmpName)
		return err
	}
	return nil
}

func dedupSorted(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line] {
			seen[line] = true
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
