package sqlite

import (
	"errors"
	"testing"
)

func TestIsSQLiteBusy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"busy code", errors.New("SQLITE_BUSY: cannot start a transaction"), true},
		{"other", errors.New("no such table: assessment_runs"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isSQLiteBusy(tc.err); got != tc.want {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryOnBusyRecovers(t *testing.T) {
	attempts := 0
	err := retryOnBusy(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Errorf("retryOnBusy = %v, want nil after recovery", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryOnBusyGivesUp(t *testing.T) {
	attempts := 0
	err := retryOnBusy(func() error {
		attempts++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Error("permanently locked database must surface the error")
	}
	if attempts != busyMaxRetries {
		t.Errorf("attempts = %d, want %d", attempts, busyMaxRetries)
	}
}

func TestRetryOnBusyNonBusyError(t *testing.T) {
	attempts := 0
	wantErr := errors.New("constraint failed")
	err := retryOnBusy(func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want the original error", err)
	}
	if attempts != 1 {
		t.Errorf("non-busy errors must not retry: %d attempts", attempts)
	}
}
