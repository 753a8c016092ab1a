package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (suite *LoggerTestSuite) TestNewLogger() {
	logger, err := NewLogger("debug", filepath.Join(suite.T().TempDir(), "app.log"))
	suite.NoError(err)
	suite.NotNil(logger.Logger)
	suite.True(logger.Core().Enabled(-1))
	suite.NoError(logger.Sync())
}

func (suite *LoggerTestSuite) TestDefaultsToInfo() {
	logger, err := NewLogger("", "")
	suite.NoError(err)
	suite.False(logger.Core().Enabled(-1))
	suite.True(logger.Core().Enabled(0))
}

func (suite *LoggerTestSuite) TestBadLevel() {
	_, err := NewLogger("loud", "")
	suite.Error(err)
}

func (suite *LoggerTestSuite) TestLoggerSyncNilLogger() {
	logger := &Logger{Logger: nil}

	// Sync should not panic and should return nil for a nil inner logger
	suite.NoError(logger.Sync())
}
