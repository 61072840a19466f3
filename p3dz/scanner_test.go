package p3dz

import (
	"context"
	"errors"
	"testing"

	p3dzerrors "github.com/flaneur2020/p3dz-get/p3dz/errors"
	stor "github.com/flaneur2020/p3dz-get/p3dz/storage"
)

func TestScanner_Scan(t *testing.T) {
	hello, _ := loadFixture(t, "hello.p3dz")
	multi, _ := loadFixture(t, "multi.p3dz")

	storage := stor.NewMockStorage()
	storage.AddFile("models/hero.bin", hello)
	storage.AddFile("levels/01/geometry", multi)
	storage.AddFile("readme.txt", []byte("P3D is not enough"))
	storage.AddFile("short", []byte("P3"))
	storage.AddFile("empty", nil)

	files, err := NewScanner(storage).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []string{"levels/01/geometry", "models/hero.bin"}
	if len(files) != len(want) {
		t.Fatalf("Scan() = %+v, want paths %v", files, want)
	}
	for i, path := range want {
		if files[i].Path != path {
			t.Errorf("files[%d].Path = %q, want %q", i, files[i].Path, path)
		}
	}
	if files[1].Size != int64(len(hello)) {
		t.Errorf("files[1].Size = %d, want %d", files[1].Size, len(hello))
	}
}

func TestIsContainer(t *testing.T) {
	storage := stor.NewMockStorage()
	storage.AddFile("yes", []byte("P3DZ\x00\x00\x00\x00"))
	storage.AddFile("no", []byte("PK\x03\x04"))
	storage.AddFile("tiny", []byte("P"))

	tests := []struct {
		path string
		want bool
	}{
		{"yes", true},
		{"no", false},
		{"tiny", false},
	}
	for _, tt := range tests {
		got, err := IsContainer(context.Background(), storage, tt.path)
		if err != nil {
			t.Fatalf("IsContainer(%s) error = %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("IsContainer(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if _, err := IsContainer(context.Background(), storage, "missing"); err == nil {
		t.Error("IsContainer() on missing file should fail")
	}
}

func TestReadContainer_Missing(t *testing.T) {
	_, err := ReadContainer(context.Background(), stor.NewMockStorage(), "missing")
	if !errors.Is(err, p3dzerrors.ErrFileRead) {
		t.Errorf("ReadContainer() error = %v, want %v", err, p3dzerrors.ErrFileRead)
	}
}
