package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"guildwarden/internal/logger"
)

// 慢查询阈值
const slowQueryThreshold = 200 * time.Millisecond

// queryLogger writes gorm output as structured events on the application
// logger, tagged component=gorm.
type queryLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

// newQueryLogger 将 database.log_level 映射为 gorm 的日志级别，
// 只有 DEBUG 和 INFO 级别会记录每条 SQL 语句
func newQueryLogger(level string) gormlogger.Interface {
	l := &queryLogger{slow: slowQueryThreshold}
	switch strings.ToUpper(level) {
	case "DEBUG", "INFO":
		l.level = gormlogger.Info
	case "ERROR", "FATAL":
		l.level = gormlogger.Error
	case "SILENT":
		l.level = gormlogger.Silent
	default:
		l.level = gormlogger.Warn
	}
	return l
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *queryLogger) event(level zerolog.Level) *zerolog.Event {
	return logger.Logger().WithLevel(level).Str("component", "gorm")
}

func (l *queryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.event(zerolog.InfoLevel).Msgf(msg, data...)
	}
}

func (l *queryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.event(zerolog.WarnLevel).Msgf(msg, data...)
	}
}

func (l *queryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.event(zerolog.ErrorLevel).Msgf(msg, data...)
	}
}

// Trace reports failed statements, slow ones, and at Info every statement.
// A missing row is not a failure: the repositories expect it.
func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var e *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		e = l.event(zerolog.ErrorLevel).Err(err)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		e = l.event(zerolog.WarnLevel).Bool("slow", true)
	case l.level >= gormlogger.Info:
		e = l.event(zerolog.DebugLevel)
	default:
		return
	}

	sql, rows := fc()
	e.Dur("elapsed", elapsed).
		Int64("rows", rows).
		Str("source", utils.FileWithLineNum()).
		Msg(sql)
}
