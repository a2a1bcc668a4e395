package main

import (
	"os"
	"time"
)

var (
	AccessLogFile = "access.log"
	ErrorLogFile  = "error.log"
)

func RequestLog(method, url, protocol, remote string) {
	line := method + " " + url + " " + protocol + " - " + remote
	AppendLog(AccessLogFile, "INFO", line)
}

func ErrorLog(err error) {
	AppendLog(ErrorLogFile, "ERROR", err.Error())
}

func AppendLog(file, logType, entry string) {
	entry = time.Now().Format("2006-01-02 15:04:05") + " [" + logType + "] " + entry
	println(entry)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		println("Failed to open log file:", err.Error())
		return
	}
	defer f.Close()

	if _, err := f.WriteString(entry + "\n"); err != nil {
		println("Failed to write to log file:", err.Error())
	}
}
