package core

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkFields(i int) Fields {
	f := NewFields()
	f.Set(FieldName, "bench")
	f.Set(FieldVersion, fmt.Sprintf("1.0.%d", i))
	f.Set(FieldSummary, "A benchmark package")
	f.Set("license", "MIT")
	f.Put(FieldClassifiers, List(
		"Programming Language :: Python :: 3",
		"License :: OSI Approved :: MIT License",
	))
	f.Put(FieldRequiresDist, List("requests>=2.0", "six"))
	return f
}

func BenchmarkStore_Ingest(b *testing.B) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Ingest(ctx, "bench", fmt.Sprintf("1.0.%d", i), benchmarkFields(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStore_GetMetadata(b *testing.B) {
	store := NewStore(NewMemoryBackend())
	ctx := context.Background()
	if err := store.Ingest(ctx, "bench", "1.0.0", benchmarkFields(0)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.GetMetadata(ctx, "Bench", "latest"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCompareVersions(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CompareVersions("2.31.0", "2.31.0rc1")
	}
}
