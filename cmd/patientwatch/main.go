package main

import "github.com/patientwatch/patientwatch/cmd/patientwatch/command"

func main() {
	command.Execute()
}
