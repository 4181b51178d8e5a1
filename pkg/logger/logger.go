package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log — глобальный логгер приложения. Инициализирован заранее, чтобы пакеты-библиотеки
// (клиент синхронизации, рендерер) могли логировать и без вызова Init, например в тестах.
var Log = logrus.New()

// Init настраивает глобальный логгер из окружения.
// Вызывается один раз при старте в main.
//
//	LOG_LEVEL  — уровень (debug, info, warn, error), по умолчанию info
//	LOG_FORMAT — "json" для сбора логов, иначе цветной текст
func Init() {
	InitWith(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)
}

// InitWith — то же, что Init, но с явными параметрами (флаги командной строки, тесты).
func InitWith(levelName, format string, out io.Writer) {
	Log = logrus.New()

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	if strings.ToLower(format) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
	}

	if out == nil {
		out = os.Stdout
	}
	Log.SetOutput(out)
}

// Component возвращает запись с полем component.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Match — запись с полями матча и игрока; пустой playerID опускается.
func Match(component, matchID, playerID string) *logrus.Entry {
	fields := logrus.Fields{
		"component": component,
		"match_id":  matchID,
	}
	if playerID != "" {
		fields["player_id"] = playerID
	}
	return Log.WithFields(fields)
}
