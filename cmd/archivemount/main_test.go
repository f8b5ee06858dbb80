package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestDefaultMountPointUsesArchiveStem(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	got, err := defaultMountPoint("notes.tar.gz")
	if err != nil {
		t.Fatalf("defaultMountPoint: %v", err)
	}
	if got != "notes.tar" {
		t.Fatalf("defaultMountPoint = %q, want %q", got, "notes.tar")
	}
}

func TestDefaultMountPointAppendsNumberedSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	if err := os.Mkdir("archive", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Mkdir("archive (1)", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	got, err := defaultMountPoint("archive.zip")
	if err != nil {
		t.Fatalf("defaultMountPoint: %v", err)
	}
	if got != "archive (2)" {
		t.Fatalf("defaultMountPoint = %q, want %q", got, "archive (2)")
	}
}

func TestDefaultMountPointFailsClearlyWhenExhausted(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	if err := os.Mkdir("archive", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	for i := 1; i < maxMountPointAttempts; i++ {
		name := filepath.Join(dir, "archive ("+strconv.Itoa(i)+")")
		if err := os.Mkdir(name, 0o755); err != nil {
			t.Fatalf("Mkdir %s: %v", name, err)
		}
	}

	_, err = defaultMountPoint("archive.zip")
	if err == nil {
		t.Fatal("defaultMountPoint should fail once every candidate up to the attempt limit is taken")
	}
}

func TestDefaultMountPointHandlesNestedPath(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	got, err := defaultMountPoint(filepath.Join("some", "nested", "archive.7z"))
	if err != nil {
		t.Fatalf("defaultMountPoint: %v", err)
	}
	if got != "archive" {
		t.Fatalf("defaultMountPoint = %q, want %q", got, "archive")
	}
}

func TestParseMountOptionsRecognizesAllowOtherAndDebug(t *testing.T) {
	allowOther, debug := parseMountOptions("allow_other,debug")
	if !allowOther || !debug {
		t.Fatalf("parseMountOptions = (%v, %v), want (true, true)", allowOther, debug)
	}
}

func TestParseMountOptionsDropsLegacySuboptions(t *testing.T) {
	allowOther, debug := parseMountOptions("passphrase,formatraw,nobackup,nosave,readonly")
	if allowOther || debug {
		t.Fatalf("parseMountOptions = (%v, %v), want (false, false) for legacy suboptions", allowOther, debug)
	}
}

func TestParseMountOptionsIgnoresUnknownAndBlank(t *testing.T) {
	allowOther, debug := parseMountOptions(" , unknown_option ,allow_other")
	if !allowOther {
		t.Fatal("allow_other should still be recognized amid blanks and unknown options")
	}
	if debug {
		t.Fatal("debug should not be set")
	}
}

func TestParseMountOptionsEmptyString(t *testing.T) {
	allowOther, debug := parseMountOptions("")
	if allowOther || debug {
		t.Fatalf("parseMountOptions(\"\") = (%v, %v), want (false, false)", allowOther, debug)
	}
}
