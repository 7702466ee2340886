package cli

// Root returns the campusfeed command tree.
func Root(e *Env) *Command {
	return &Command{
		Name:    "campusfeed",
		Summary: "Campus feed from the terminal",
		Subcommands: []*Command{
			registerCommand(e),
			loginCommand(e),
			logoutCommand(e),
			whoamiCommand(e),
			profileCommand(e),
			userCommand(e),
			feedCommand(e),
			postCommand(e),
			likeCommand(e),
			commentsCommand(e),
			sessionCommand(e),
			doctorCommand(e),
			versionCommand(e),
		},
	}
}
