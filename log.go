package firacp

import "github.com/sirupsen/logrus"

// log is the package logger. Quiet by default; SetLogger replaces it.
var log = defaultLogger()

func defaultLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(l)
}

// SetLogger routes package logging through e. Pass an entry with fields
// already attached to tag a particular endpoint.
func SetLogger(e *logrus.Entry) {
	if e == nil {
		e = defaultLogger()
	}
	log = e
}
