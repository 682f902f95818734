package corpus

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

func TestRead(t *testing.T) {
	in := "title,url,tags,cleaned_text\n" +
		"Red car,http://a,cars,red car\n" +
		"Blue car,http://b,cars,blue car\n"
	records, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].DocID != 1 || records[1].Title != "Blue car" || records[1].URL != "http://b" {
		t.Errorf("unexpected record: %+v", records[1])
	}
	if got := records[0].Terms(); !reflect.DeepEqual(got, []string{"red", "car"}) {
		t.Errorf("Terms() = %q", got)
	}
}

func TestRead_ColumnOrderDoesNotMatter(t *testing.T) {
	in := "cleaned_text,url,title\nalpha beta,http://x,X\n"
	records, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if records[0].Title != "X" || records[0].CleanedText != "alpha beta" {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestRead_MissingColumnIsSchemaError(t *testing.T) {
	for _, in := range []string{
		"title,url\nA,http://a\n",
		"cleaned_text,title\nfoo,A\n",
		"",
	} {
		_, err := Read(strings.NewReader(in))
		if !errors.Is(err, apperrors.ErrSchema) {
			t.Errorf("Read(%q) error = %v, want ErrSchema", in, err)
		}
	}
}

func TestRead_EmptyCorpus(t *testing.T) {
	records, err := Read(strings.NewReader("title,url,cleaned_text\n"))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty corpus, got %d records", len(records))
	}
}

func TestRead_EmptyTextKeepsPosition(t *testing.T) {
	in := "title,url,cleaned_text\nA,http://a,\nB,http://b,bee\n"
	records, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1].DocID != 1 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if len(records[0].Terms()) != 0 {
		t.Errorf("expected no terms for empty text")
	}
}

func TestClean(t *testing.T) {
	in := "url,title,text,tags\n" +
		"http://a,The Red Car,\"A red car, and another red car!\",Cars\n" +
		"http://b,,missing title,Cars\n" +
		"http://c,Blue,Blue skies 2024,Weather\n"
	var out bytes.Buffer
	stats, err := Clean(strings.NewReader(in), &out, textnorm.New(false))
	if err != nil {
		t.Fatalf("Clean() error: %v", err)
	}
	if stats.Rows != 3 || stats.Written != 2 || stats.Dropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	records, err := Read(&out)
	if err != nil {
		t.Fatalf("reading cleaned output: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 cleaned records, got %d", len(records))
	}
	if records[0].CleanedText != "another car cars red" {
		t.Errorf("cleaned_text = %q", records[0].CleanedText)
	}
	if records[1].CleanedText != "blue skies weather" {
		t.Errorf("cleaned_text = %q", records[1].CleanedText)
	}
	if records[0].Title != "The Red Car" || records[0].URL != "http://a" {
		t.Errorf("metadata not preserved: %+v", records[0])
	}
}

func TestClean_MissingColumn(t *testing.T) {
	_, err := Clean(strings.NewReader("title,url\nA,B\n"), &bytes.Buffer{}, textnorm.New(false))
	if !errors.Is(err, apperrors.ErrSchema) {
		t.Errorf("error = %v, want ErrSchema", err)
	}
}
