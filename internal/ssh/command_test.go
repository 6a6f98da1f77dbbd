package ssh

import "testing"

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		locale  Locale
		command string
		cwd     string
		want    string
	}{
		{
			name:    "plain",
			command: "ls",
			want:    "ls",
		},
		{
			name:    "cwd",
			command: "ls",
			cwd:     "/tmp",
			want:    `cd "/tmp" && ls`,
		},
		{
			name:    "cwd with metacharacters",
			command: "ls",
			cwd:     `/srv/a "b" $HOME/` + "`x`" + `\y`,
			want:    `cd "/srv/a \"b\" \$HOME/` + "\\`x\\`" + `\\y" && ls`,
		},
		{
			name:    "cwd with spaces and single quotes",
			command: "pwd",
			cwd:     "/data/it's here",
			want:    `cd "/data/it's here" && pwd`,
		},
		{
			name:    "lang only",
			locale:  Locale{Lang: "en_US.UTF-8"},
			command: "ls",
			cwd:     "/tmp",
			want:    `export LANG=en_US.UTF-8 LC_ALL=C && cd "/tmp" && ls`,
		},
		{
			name:    "lc_all only",
			locale:  Locale{LCAll: "de_DE.UTF-8"},
			command: "date",
			want:    `export LANG=C LC_ALL=de_DE.UTF-8 && date`,
		},
		{
			name:    "both set",
			locale:  Locale{Lang: "en_US.UTF-8", LCAll: "en_US.UTF-8"},
			command: "ls | wc -l",
			want:    `export LANG=en_US.UTF-8 LC_ALL=en_US.UTF-8 && ls | wc -l`,
		},
		{
			name:    "odd locale value is quoted",
			locale:  Locale{Lang: "en US"},
			command: "ls",
			want:    `export LANG="en US" LC_ALL=C && ls`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildCommand(tt.locale, tt.command, tt.cwd); got != tt.want {
				t.Errorf("BuildCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCommand_Deterministic(t *testing.T) {
	first := BuildCommand(Locale{Lang: "C.UTF-8"}, "uname -a", "/opt")
	for i := 0; i < 10; i++ {
		if got := BuildCommand(Locale{Lang: "C.UTF-8"}, "uname -a", "/opt"); got != first {
			t.Fatalf("BuildCommand not deterministic: %q vs %q", got, first)
		}
	}
}
