package main

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/avlonitis/synapse/internal/config"
)

// Archive layout: top-level component directories, one per data
// location. Import maps them back onto the configured paths.
const (
	componentStore = "store"
	componentNATS  = "nats"
	componentVault = "vault"
)

func runExport(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" {
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: synapse export -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	count := 0

	// SQLite store: the database file plus its WAL sidecars.
	if cfg.Store.Path != "" && cfg.Store.Path != ":memory:" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			path := cfg.Store.Path + suffix
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := addFile(tw, componentStore, path); err != nil {
				return fmt.Errorf("archive store: %w", err)
			}
			count++
		}
	}

	// NATS JetStream data directory.
	n, err := addTree(tw, componentNATS, cfg.NATS.DataDir)
	if err != nil {
		return fmt.Errorf("archive nats data: %w", err)
	}
	count += n

	// Vault file.
	if cfg.Vault.Path != "" {
		if _, err := os.Stat(cfg.Vault.Path); err == nil {
			if err := addFile(tw, componentVault, cfg.Vault.Path); err != nil {
				return fmt.Errorf("archive vault: %w", err)
			}
			count++
		}
	}

	if count == 0 {
		slog.Warn("no data files found, creating empty archive")
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Export complete: %d files, %s\n", count, formatSize(size))
	return nil
}

func addFile(tw *tar.Writer, component, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = component + "/" + filepath.Base(path)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func addTree(tw *tar.Writer, component, root string) (int, error) {
	if root == "" {
		return 0, nil
	}
	if _, err := os.Stat(root); err != nil {
		return 0, nil // nothing to archive
	}

	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = component + "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func runImport(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: synapse import -f <archive.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Pre-scan: refuse to clobber existing data unless told to.
	if !overwrite {
		targets, err := scanArchiveTargets(inputPath, cfg)
		if err != nil {
			return fmt.Errorf("scan archive: %w", err)
		}
		for _, target := range targets {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists, add -overwrite to replace", target)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target := targetPath(hdr.Name, cfg)
		if target == "" {
			continue
		}

		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close %s: %w", target, err)
		}
		restored++
	}

	fmt.Printf("Import complete: %d files\n", restored)
	return nil
}

// scanArchiveTargets reads tar headers to collect destination paths
// without extracting file data.
func scanArchiveTargets(path string, cfg *config.Config) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var targets []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		target := targetPath(hdr.Name, cfg)
		if target != "" && !seen[target] {
			seen[target] = true
			targets = append(targets, target)
		}
	}
	return targets, nil
}

// targetPath maps an archive entry back to its configured location.
// Entries outside the known components, or trying to escape with "..",
// are skipped.
func targetPath(name string, cfg *config.Config) string {
	component, rel := splitComponentPath(name)
	if component == "" || strings.Contains(rel, "..") {
		return ""
	}

	switch component {
	case componentStore:
		if cfg.Store.Path == "" || cfg.Store.Path == ":memory:" {
			return ""
		}
		return filepath.Join(filepath.Dir(cfg.Store.Path), rel)
	case componentNATS:
		if cfg.NATS.DataDir == "" {
			return ""
		}
		return filepath.Join(cfg.NATS.DataDir, filepath.FromSlash(rel))
	case componentVault:
		if cfg.Vault.Path == "" {
			return ""
		}
		return filepath.Join(filepath.Dir(cfg.Vault.Path), rel)
	}
	return ""
}

// splitComponentPath splits "nats/jetstream/foo" into ("nats",
// "jetstream/foo"). Returns empty component for invalid paths.
func splitComponentPath(name string) (component, rel string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return "", ""
	}

	component = name[:idx]
	rel = strings.TrimSuffix(name[idx+1:], "/")
	if rel == "" {
		return "", ""
	}

	switch component {
	case componentStore, componentNATS, componentVault:
		return component, rel
	}
	return "", ""
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
