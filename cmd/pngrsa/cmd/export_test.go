package cmd

type (
	Command        = command
	Option         = option
	PasswordReader = passwordReader
)

var NewCommand = newCommand
