package modelfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeGGUFString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func buildMinimalGGUF(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(ggufMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // tensor count
	binary.Write(&buf, binary.LittleEndian, uint64(1)) // kv count

	writeGGUFString(&buf, "general.architecture")
	binary.Write(&buf, binary.LittleEndian, uint32(ggufTypeString))
	writeGGUFString(&buf, "llama")

	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test gguf: %v", err)
	}
	return path
}

func TestExtractReadsKeyValuePairs(t *testing.T) {
	path := buildMinimalGGUF(t)

	out, err := (Extractor{}).Extract(path)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Extract() did not produce valid JSON: %v", err)
	}
	if decoded["general.architecture"] != "llama" {
		t.Errorf("general.architecture = %v, want llama", decoded["general.architecture"])
	}
}

func TestExtractRejectsNonGGUF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-model.gguf")
	os.WriteFile(path, []byte("not gguf data"), 0o644)

	if _, err := (Extractor{}).Extract(path); err == nil {
		t.Errorf("Extract() expected error for non-GGUF file")
	}
}
