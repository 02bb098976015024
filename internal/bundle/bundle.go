// Package bundle assembles the loadable extension directory: manifest,
// background script and icons copied verbatim into an output directory.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	logx "timez/pkg/logx"
)

type Options struct {
	Root string // project root holding manifest.json and public/
	Out  string // defaults to <Root>/dist
}

type Result struct {
	Out   string
	Files []string // relative to Out
}

// Build copies the extension assets. manifest.json and public/icons are
// required; public/background.js is copied only when it exists.
func Build(fs afero.Fs, opts Options, log logx.Logger) (Result, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	out := opts.Out
	if out == "" {
		out = filepath.Join(root, "dist")
	}
	res := Result{Out: out}

	if err := fs.MkdirAll(out, 0o755); err != nil {
		return res, fmt.Errorf("create %s: %w", out, err)
	}

	if err := copyFile(fs, filepath.Join(root, "manifest.json"), filepath.Join(out, "manifest.json")); err != nil {
		return res, err
	}
	res.Files = append(res.Files, "manifest.json")
	log.Info("copied", logx.String("file", "manifest.json"))

	bg := filepath.Join(root, "public", "background.js")
	if ok, _ := afero.Exists(fs, bg); ok {
		if err := copyFile(fs, bg, filepath.Join(out, "background.js")); err != nil {
			return res, err
		}
		res.Files = append(res.Files, "background.js")
		log.Info("copied", logx.String("file", "background.js"))
	}

	icons, err := copyTree(fs, filepath.Join(root, "public", "icons"), filepath.Join(out, "icons"))
	if err != nil {
		return res, err
	}
	for _, f := range icons {
		res.Files = append(res.Files, filepath.Join("icons", f))
	}
	log.Info("copied", logx.String("dir", "icons/"), logx.Int("files", len(icons)))
	return res, nil
}

func copyTree(fs afero.Fs, src, dst string) ([]string, error) {
	info, err := fs.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("icons: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("icons: %s is not a directory", src)
	}
	var files []string
	err = afero.Walk(fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		if err := copyFile(fs, path, target); err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func copyFile(fs afero.Fs, src, dst string) (err error) {
	in, err := fs.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("missing %s: %w", src, err)
		}
		return err
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
