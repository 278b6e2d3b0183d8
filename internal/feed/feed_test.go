package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/rs/zerolog"
)

func TestParseUTF8(t *testing.T) {
	data := "выгрузка остатков\n" +
		"дата: 01.01.2026\n" +
		"Код;Количество;Цена\n" +
		"B100;>10;5'990.00 руб.\n" +
		"B200;1;50.00 руб.\n" +
		"B300;7;1'200.00 руб.\n"
	cfg := conf.FeedConfig{Charset: "utf-8", HeaderRows: 2, Separator: ";"}

	got, err := Parse(strings.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []Remnant{
		{"B100", ">10", "5'990.00 руб."},
		{"B200", "1", "50.00 руб."},
		{"B300", "7", "1'200.00 руб."},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// The live feed is windows-1251; the header bytes below are
// "Код;Количество;Цена" in that encoding.
func TestParseWindows1251(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		0xCA, 0xEE, 0xE4, ';',
		0xCA, 0xEE, 0xEB, 0xE8, 0xF7, 0xE5, 0xF1, 0xF2, 0xE2, 0xEE, ';',
		0xD6, 0xE5, 0xED, 0xE0, '\n',
	})
	// "B1;5;100.00 руб."
	buf.WriteString("B1;5;100.00 ")
	buf.Write([]byte{0xF0, 0xF3, 0xE1, '.', '\n'})

	cfg := conf.FeedConfig{Charset: "windows-1251", HeaderRows: 0, Separator: ";"}
	got, err := Parse(&buf, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0] != (Remnant{"B1", "5", "100.00 руб."}) {
		t.Fatalf("row = %v", got[0])
	}
}

func TestParseMissingColumns(t *testing.T) {
	data := "Код;Остаток\nB1;5\n"
	cfg := conf.FeedConfig{Charset: "utf-8"}
	if _, err := Parse(strings.NewReader(data), cfg); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestParseSkipsShortAndEmptyRows(t *testing.T) {
	data := "Код;Количество;Цена\n" +
		"B1;5;100.00\n" +
		"итого\n" + // trailing summary row
		";;\n" // empty code
	cfg := conf.FeedConfig{Charset: "utf-8"}
	got, err := Parse(strings.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Code != "B1" {
		t.Fatalf("rows = %v, want only B1", got)
	}
}

func TestDownload(t *testing.T) {
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	f, err := zw.Create("ostatki.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("Код;Количество;Цена\nB1;>10;5'990.00\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive.Bytes())
	}))
	defer srv.Close()

	c := New(zerolog.Nop(), conf.FeedConfig{URL: srv.URL, Charset: "utf-8"})
	rows, size, err := c.Download(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(archive.Len()) {
		t.Fatalf("size = %d, want %d", size, archive.Len())
	}
	if len(rows) != 1 || rows[0] != (Remnant{"B1", ">10", "5'990.00"}) {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(zerolog.Nop(), conf.FeedConfig{URL: srv.URL, Charset: "utf-8"})
	if _, _, err := c.Download(context.Background()); err == nil {
		t.Fatal("expected error on http 502")
	}
}
