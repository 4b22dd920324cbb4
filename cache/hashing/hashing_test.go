package hashing

import (
	"crypto/rand"
	"fmt"
	"math"
	"testing"
)

func TestDeriveIsDeterministic(t *testing.T) {
	urls := []string{
		"",
		"https://x/a.png",
		"https://cdn.example.com/avatars/42.jpg?size=128&v=3",
		"https://例え.jp/画像/猫.png",
		"not even a url ../../etc/passwd",
	}

	for _, u := range urls {
		k1 := Derive(u)
		k2 := Derive(u)
		if k1 != k2 {
			t.Errorf("Derive(%q) not deterministic: %q != %q", u, k1, k2)
		}
		if err := Validate(k1); err != nil {
			t.Errorf("Derive(%q) returned an invalid key: %v", u, err)
		}
	}
}

func TestDeriveKnownValue(t *testing.T) {
	// sha256("hello")
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if k := Derive("hello"); k != expected {
		t.Fatalf("Expected %q, got %q", expected, k)
	}
}

func TestDeriveDistinct(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 1000; i++ {
		u := fmt.Sprintf("https://x/img/%d.png", i)
		k := Derive(u)
		if prev, dupe := seen[k]; dupe {
			t.Fatalf("Key collision between %q and %q", prev, u)
		}
		seen[k] = u
	}
}

func TestValidate(t *testing.T) {
	tcs := []struct {
		key   string
		valid bool
	}{
		{Derive("x"), true},
		{"", false},
		{"abc", false},
		{"2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824", false},
		{"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b982z", false},
	}

	for _, tc := range tcs {
		err := Validate(tc.key)
		if tc.valid && err != nil {
			t.Errorf("Expected %q to be valid, got %v", tc.key, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("Expected %q to be invalid", tc.key)
		}
	}
}

func TestShards(t *testing.T) {
	shards := Shards()
	if len(shards) != 256 {
		t.Fatalf("Expected 256 shards, got %d", len(shards))
	}

	k := Derive("https://x/a.png")
	found := false
	for _, s := range shards {
		if s == Shard(k) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("Shard %q of key %q not in Shards()", Shard(k), k)
	}
}

func BenchmarkDerive(b *testing.B) {
	for i := 0; i <= 12; i += 4 {
		n := int(math.Pow(2, float64(i)))
		data := make([]byte, n)
		_, err := rand.Read(data)
		if err != nil {
			b.Fatal(err)
		}
		url := "https://x/" + fmt.Sprintf("%x", data)

		b.Run(fmt.Sprintf("%d", len(url)), func(b *testing.B) {
			for j := 0; j < b.N; j++ {
				Derive(url)
			}
		})
	}
}
