package sfnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) TestApplyDefaults() {
	c := Config{OuterPort: 10001}
	c.applyDefaults()

	s.Equal(DefaultConfig().WorkerThreads, c.WorkerThreads)
	s.Equal(DefaultConfig().MinBufSize, c.MinBufSize)
	s.Equal(10001, c.InnerPort, "InnerPort should default to OuterPort when unset")
}

func (s *ConfigTestSuite) TestApplyDefaultsDoesNotOverrideSetFields() {
	c := Config{OuterPort: 10001, WorkerThreads: 8, NetworkTimeout: 5 * time.Second}
	c.applyDefaults()

	s.Equal(8, c.WorkerThreads)
	s.Equal(5*time.Second, c.NetworkTimeout)
}

func (s *ConfigTestSuite) TestValidateRejectsBadBufferBounds() {
	c := DefaultConfig()
	c.OuterPort = 10001
	c.MinBufSize = 8192
	c.MaxBufSize = 4096

	s.Error(c.validate())
}

func (s *ConfigTestSuite) TestValidateRejectsHeaderLargerThanMaxBuf() {
	c := DefaultConfig()
	c.OuterPort = 10001
	c.ProtoHeaderSize = c.MaxBufSize

	s.Error(c.validate())
}

func (s *ConfigTestSuite) TestValidateRequiresOuterPort() {
	c := DefaultConfig()
	s.Error(c.validate())
}

func (s *ConfigTestSuite) TestBindAddrWildcardWhenBothSet() {
	c := Config{OuterBindAddr: "127.0.0.1", InnerBindAddr: "10.0.0.1"}
	s.Equal("", c.bindAddr())
}

func (s *ConfigTestSuite) TestBindAddrUsesWhicheverIsSet() {
	c := Config{OuterBindAddr: "127.0.0.1"}
	s.Equal("127.0.0.1", c.bindAddr())

	c = Config{InnerBindAddr: "10.0.0.1"}
	s.Equal("10.0.0.1", c.bindAddr())
}
