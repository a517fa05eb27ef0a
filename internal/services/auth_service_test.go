package services

import (
	"errors"
	"testing"
	"time"
)

type authStubStore struct {
	supervisors map[string]*Supervisor
}

func newAuthStubStore() *authStubStore {
	return &authStubStore{supervisors: map[string]*Supervisor{}}
}

func (s *authStubStore) FindSupervisorByEmail(email string) (*Supervisor, error) {
	if sup, ok := s.supervisors[email]; ok {
		copy := *sup
		return &copy, nil
	}
	return nil, nil
}

func (s *authStubStore) AddSupervisor(sup *Supervisor) error {
	if _, ok := s.supervisors[sup.Email]; ok {
		return errors.New("duplicate supervisor")
	}
	copy := *sup
	s.supervisors[sup.Email] = &copy
	return nil
}

func TestAuthRegisterAndLogin(t *testing.T) {
	store := newAuthStubStore()
	svc := NewAuthService(store, func(sid, email string, ttl time.Duration) (string, error) {
		return "token:" + sid, nil
	})
	svc.now = func() time.Time { return time.Unix(0, 0) }
	svc.idGen = func(prefix string, n int) string { return prefix + "1234567" }

	res, err := svc.Register("Meseret", "sup@example.com", "Secret123")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if res.SupervisorID == "" {
		t.Fatalf("expected id in result: %+v", res)
	}
	if res.Token != "token:"+res.SupervisorID {
		t.Fatalf("unexpected token %q", res.Token)
	}

	if _, err = svc.Register("Meseret", "sup@example.com", "Secret123"); err == nil {
		t.Fatalf("expected conflict error on duplicate registration")
	}

	loginRes, err := svc.Login("sup@example.com", "Secret123")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if loginRes.Token == "" {
		t.Fatalf("expected token in login response")
	}

	if _, err := svc.Login("sup@example.com", "wrong"); err == nil {
		t.Fatalf("expected error for wrong password")
	}
	if _, err := svc.Login("missing@example.com", "Secret123"); err == nil {
		t.Fatalf("expected error for missing supervisor")
	}
}

func TestAuthValidation(t *testing.T) {
	store := newAuthStubStore()
	svc := NewAuthService(store, func(sid, email string, ttl time.Duration) (string, error) {
		return "tok", nil
	})

	if _, err := svc.Register("", "", ""); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := svc.Login("", ""); err == nil {
		t.Fatalf("expected validation error on login")
	}
}
