package credential

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type recordingPersister struct {
	mu    sync.Mutex
	saved [][2]string
	err   error
}

func (p *recordingPersister) SaveCredential(access, refresh string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, [2]string{access, refresh})
	return p.err
}

func TestStore_SnapshotBeforeRefresh(t *testing.T) {
	s := NewStore(Credential{RefreshToken: "boot"}, nil)
	c := s.Snapshot()
	if c.HasAccessToken() {
		t.Error("expected no access token before first refresh")
	}
	if c.RefreshToken != "boot" {
		t.Errorf("expected refresh token boot, got %q", c.RefreshToken)
	}
}

func TestStore_Replace(t *testing.T) {
	s := NewStore(Credential{RefreshToken: "boot"}, nil)
	if err := s.Replace("access-1", "refresh-1", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := s.Snapshot()
	if c.AccessToken != "access-1" || c.RefreshToken != "refresh-1" {
		t.Errorf("unexpected credential %+v", c)
	}
	if c.ValidityHint != time.Hour {
		t.Errorf("expected validity 1h, got %v", c.ValidityHint)
	}
	if c.RefreshedAt.IsZero() {
		t.Error("expected refresh time to be set")
	}
}

func TestStore_SetRefreshTokenKeepsAccess(t *testing.T) {
	s := NewStore(Credential{RefreshToken: "boot"}, nil)
	s.Replace("access-1", "refresh-1", 0)
	if err := s.SetRefreshToken("operator"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := s.Snapshot()
	if c.AccessToken != "access-1" {
		t.Errorf("expected access token kept, got %q", c.AccessToken)
	}
	if c.RefreshToken != "operator" {
		t.Errorf("expected operator refresh token, got %q", c.RefreshToken)
	}
}

func TestStore_PersistsEveryMutation(t *testing.T) {
	p := &recordingPersister{}
	s := NewStore(Credential{RefreshToken: "boot"}, p)
	s.Replace("a1", "r1", 0)
	s.SetRefreshToken("r2")
	s.Replace("a3", "r3", 0)

	want := [][2]string{{"a1", "r1"}, {"a1", "r2"}, {"a3", "r3"}}
	if len(p.saved) != len(want) {
		t.Fatalf("expected %d saves, got %d", len(want), len(p.saved))
	}
	for i := range want {
		if p.saved[i] != want[i] {
			t.Errorf("save %d: expected %v, got %v", i, want[i], p.saved[i])
		}
	}
}

func TestStore_PersistErrorKeepsMemory(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	s := NewStore(Credential{RefreshToken: "boot"}, p)
	err := s.Replace("a1", "r1", 0)
	if err == nil {
		t.Fatal("expected persist error")
	}
	if s.Snapshot().RefreshToken != "r1" {
		t.Error("expected in-memory record to hold the rotated token")
	}
}

func TestStore_ConcurrentReadersSeeWholeRecords(t *testing.T) {
	s := NewStore(Credential{AccessToken: "a0", RefreshToken: "r0"}, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c := s.Snapshot()
				if c.AccessToken[1:] != c.RefreshToken[1:] {
					t.Errorf("torn credential: %+v", c)
					return
				}
			}
		}()
	}
	for i := 1; i <= 500; i++ {
		s.Replace(fmt.Sprintf("a%d", i), fmt.Sprintf("r%d", i), 0)
	}
	close(stop)
	wg.Wait()
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, ok := ExpiresAt(signed)
	if !ok {
		t.Fatal("expected expiry to be decoded")
	}
	if !got.Equal(exp) {
		t.Errorf("expected %v, got %v", exp, got)
	}

	if _, ok := ExpiresAt("not-a-jwt"); ok {
		t.Error("expected opaque token to have no expiry")
	}
	if _, ok := ExpiresAt(""); ok {
		t.Error("expected empty token to have no expiry")
	}
}
