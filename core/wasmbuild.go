package core

// Offline WASM build helper for package publication: turns a .wat source
// file into the byte blob a PUBLISH_PACKAGE_WITH_OWNER instruction stores
// in a Package::Package substate, and returns its sha256 so callers can
// cross-check the published package's identity.
//
// A pure source-to-bytes helper with no side effects on kernel state.

import (
	"crypto/sha256"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// CompileWASM reads srcPath (.wasm, used as-is) or compiles it (.wat, via
// the external wat2wasm tool) into outDir, returning the resulting bytes
// and their sha256 digest.
func CompileWASM(srcPath string, outDir string) ([]byte, [32]byte, error) {
	switch filepath.Ext(srcPath) {
	case ".wasm":
		b, err := os.ReadFile(srcPath)
		if err != nil {
			return nil, [32]byte{}, err
		}
		return b, sha256.Sum256(b), nil
	case ".wat":
		out := filepath.Join(outDir, filepath.Base(srcPath)+".wasm")
		cmd := exec.Command("wat2wasm", "-o", out, srcPath)
		if err := cmd.Run(); err != nil {
			return nil, [32]byte{}, err
		}
		b, err := os.ReadFile(out)
		if err != nil {
			return nil, [32]byte{}, err
		}
		return b, sha256.Sum256(b), nil
	default:
		return nil, [32]byte{}, errors.New("unsupported source: must be .wat or .wasm")
	}
}
