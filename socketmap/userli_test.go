package socketmap

import (
	"context"
	"net/http"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type UserliTestSuite struct {
	suite.Suite

	userli *Userli
}

func (s *UserliTestSuite) SetupTest() {
	s.userli = NewUserli("insecure", "http://localhost:8000", zap.NewNop(), NewMetrics(func() float64 { return 0 }), WithClient(http.DefaultClient))
	gock.DisableNetworking()
}

func (s *UserliTestSuite) TearDownTest() {
	gock.Off()
}

func (s *UserliTestSuite) TestGetAliases() {
	s.Run("success", func() {
		gock.New("http://localhost:8000").
			Get("/api/postfix/alias/alias@example.com").
			MatchHeader("Authorization", "Bearer insecure").
			Reply(200).
			JSON([]string{"source1@example.com", "source2@example.com"})

		aliases, err := s.userli.GetAliases(context.Background(), "alias@example.com")
		s.NoError(err)
		s.True(gock.IsDone())
		s.Equal([]string{"source1@example.com", "source2@example.com"}, aliases)
	})

	s.Run("no email", func() {
		aliases, err := s.userli.GetAliases(context.Background(), "alias")
		s.NoError(err)
		s.Empty(aliases)
	})

	s.Run("error", func() {
		gock.New("http://localhost:8000").
			Get("/api/postfix/alias/alias@example.com").
			Reply(500).
			JSON(map[string]string{"error": "internal server error"})

		aliases, err := s.userli.GetAliases(context.Background(), "alias@example.com")
		s.Error(err)
		s.True(gock.IsDone())
		s.Empty(aliases)
	})
}

func (s *UserliTestSuite) TestGetDomain() {
	s.Run("success", func() {
		gock.New("http://localhost:8000").
			Get("/api/postfix/domain/example.com").
			Reply(200).
			JSON("true")

		active, err := s.userli.GetDomain(context.Background(), "example.com")
		s.NoError(err)
		s.True(active)
	})

	s.Run("not found", func() {
		gock.New("http://localhost:8000").
			Get("/api/postfix/domain/example.com").
			Reply(200).
			JSON("false")

		active, err := s.userli.GetDomain(context.Background(), "example.com")
		s.NoError(err)
		s.True(gock.IsDone())
		s.False(active)
	})
}

func (s *UserliTestSuite) TestGetMailbox() {
	gock.New("http://localhost:8000").
		Get("/api/postfix/mailbox/user@example.com").
		Reply(200).
		JSON("true")

	exists, err := s.userli.GetMailbox(context.Background(), "user@example.com")
	s.NoError(err)
	s.True(exists)
}

func (s *UserliTestSuite) TestGetSenders() {
	gock.New("http://localhost:8000").
		Get("/api/postfix/senders/user@example.com").
		Reply(200).
		JSON([]string{"a@example.com"})

	senders, err := s.userli.GetSenders(context.Background(), "user@example.com")
	s.NoError(err)
	s.Equal([]string{"a@example.com"}, senders)
}

func (s *UserliTestSuite) TestGetQuota() {
	gock.New("http://localhost:8000").
		Get("/api/postfix/quota/user@example.com").
		Reply(200).
		JSON(Quota{PerHour: 10, PerDay: 100})

	quota, err := s.userli.GetQuota(context.Background(), "user@example.com")
	s.NoError(err)
	s.Equal(10, quota.PerHour)
	s.Equal(100, quota.PerDay)
}

func TestUserliTestSuite(t *testing.T) {
	suite.Run(t, new(UserliTestSuite))
}

func TestSanitizeEmail(t *testing.T) {
	u := NewUserli("tok", "http://localhost", zap.NewNop(), NewMetrics(func() float64 { return 0 }), WithDelimiter("+"))

	got, err := u.sanitizeEmail("  User+tag@Example.com​")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user@example.com" {
		t.Errorf("got %q, want user@example.com", got)
	}

	if _, err := u.sanitizeEmail("not-an-email"); err == nil {
		t.Error("expected an error for malformed email")
	}

	if _, err := u.sanitizeEmail("bad*local@example.com"); err == nil {
		t.Error("expected an error for invalid local part characters")
	}
}
