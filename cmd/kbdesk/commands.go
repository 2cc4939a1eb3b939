package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/kbdesk/internal/catalog"
	"github.com/kalambet/kbdesk/internal/config"
	"github.com/kalambet/kbdesk/internal/conversation"
	"github.com/kalambet/kbdesk/internal/desk"
	"github.com/kalambet/kbdesk/internal/session"
)

// --- signin / signup / signout / whoami ---

var signinCmd = &cobra.Command{
	Use:   "signin EMAIL",
	Short: "Sign in to the knowledge base",
	Long: `Sign in and remember the session on this machine.

The password is read from --password, or from the first line of stdin.

Examples:
  kbdesk signin student@uol.edu.pk --password secret
  echo secret | kbdesk signin student@uol.edu.pk`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			u, err := a.desk.SignIn(ctx, args[0], password)
			if err != nil {
				return err
			}
			printSuccess("Signed in as %s (%s)", u.Email, u.Role)
			return nil
		})
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup EMAIL",
	Short: "Create a knowledge-base account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			u, err := a.desk.SignUp(ctx, args[0], password)
			if err != nil {
				return err
			}
			printSuccess("Account created, signed in as %s", u.Email)
			return nil
		})
	},
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Forget the session stored on this machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.desk.SignOut(ctx); err != nil {
				return err
			}
			printSuccess("Signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			u := a.user(ctx)
			if u == nil {
				return session.ErrNotSignedIn
			}
			return render(cmd.OutOrStdout(), u, func(w io.Writer) error {
				fmt.Fprintf(w, "%s (%s)\n", u.Email, u.Role)
				return nil
			})
		})
	},
}

// passwordFlag returns --password, falling back to one line of stdin.
func passwordFlag(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Browse and manage the document catalog",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		return listDocuments(cmd, "", category)
	},
}

var docsSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search documents by name, description or category",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		return listDocuments(cmd, joinArgs(args), category)
	},
}

func listDocuments(cmd *cobra.Command, query, category string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		docs, err := a.desk.Documents(a.user(ctx), query, category)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), docs, func(w io.Writer) error {
			if len(docs) == 0 {
				if query != "" || category != "" {
					fmt.Fprintln(w, "No documents match your search criteria.")
				} else {
					fmt.Fprintln(w, "No documents uploaded yet.")
				}
				return nil
			}
			writeDocumentTable(w, docs)
			return nil
		})
	})
}

func writeDocumentTable(w io.Writer, docs []catalog.Document) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tSIZE\tUPLOADED BY\tDATE")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(d.ID), truncate(d.Name, 40), d.Category,
			formatFileSize(d.Size), d.UploadedBy, formatDate(d.UploadedAt))
	}
	tw.Flush()
}

var docsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.desk.Stats(a.user(ctx))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), stats, func(w io.Writer) error {
				fmt.Fprintf(w, "Documents:      %d\n", stats.TotalDocuments)
				fmt.Fprintf(w, "Total size:     %s\n", formatFileSize(stats.TotalSize))
				fmt.Fprintf(w, "Categories:     %d\n", stats.Categories)
				fmt.Fprintf(w, "Recent uploads: %d (last 7 days)\n", stats.RecentUploads)
				for _, c := range stats.CategoryBreakdown {
					fmt.Fprintf(w, "  %-20s %d\n", c.Name, c.Count)
				}
				return nil
			})
		})
	},
}

var docsCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			cats, err := a.desk.Categories(a.user(ctx))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), cats, func(w io.Writer) error {
				for _, c := range cats {
					fmt.Fprintln(w, c)
				}
				return nil
			})
		})
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a document from the catalog (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := resolveDocumentID(a, args[0])
			if err != nil {
				return err
			}
			if err := a.desk.DeleteDocument(ctx, a.user(ctx), id); err != nil {
				return err
			}
			printSuccess("Document deleted successfully")
			return nil
		})
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveDocumentID accepts a full id or the unique prefix shown by
// `docs list`.
func resolveDocumentID(a *app, ref string) (string, error) {
	if _, ok := a.catalog.Get(ref); ok {
		return ref, nil
	}
	var match string
	for _, d := range a.catalog.List() {
		if strings.HasPrefix(d.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("document id %q is ambiguous", ref)
			}
			match = d.ID
		}
	}
	if match == "" {
		return ref, nil
	}
	return match, nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a document to the knowledge base (admin)",
	Long: `Upload a document to the knowledge base and record it in the catalog.

Suggested categories: ` + strings.Join(catalog.Categories, ", ") + `

Examples:
  kbdesk upload ./prospectus.pdf --category Admissions
  kbdesk upload ./timetable.xlsx --category Academic --description "Fall timetable"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		description, _ := cmd.Flags().GetString("description")

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening file: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			printStep("Uploading %s (%s)", filepath.Base(args[0]), formatFileSize(info.Size()))
			doc, err := a.desk.Upload(ctx, a.user(ctx), desk.UploadRequest{
				Filename:    filepath.Base(args[0]),
				Content:     f,
				Size:        info.Size(),
				Category:    category,
				Description: description,
			})
			if err != nil {
				if doc.ID != "" {
					printWarning("Uploaded, but the catalog could not be saved")
				}
				return err
			}
			printSuccess("Document uploaded successfully")
			return render(cmd.OutOrStdout(), doc, func(w io.Writer) error {
				fmt.Fprintf(w, "%s  %s  %s\n", doc.ID, doc.Name, doc.Type)
				return nil
			})
		})
	},
}

// --- ask / history / suggest ---

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask the knowledge base a question",
	Long: `Ask the knowledge base a question. The exchange is kept in your history.

Examples:
  kbdesk ask "What are the admission requirements?"
  kbdesk ask What is the fee structure`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			msg, err := a.desk.Ask(ctx, a.user(ctx), joinArgs(args))
			return showAnswer(cmd, msg, err)
		})
	},
}

func showAnswer(cmd *cobra.Command, msg conversation.Message, err error) error {
	if err != nil {
		if msg.Role == conversation.RoleError {
			printWarning("Retry with: kbdesk history retry %s", msg.ID)
		}
		return err
	}
	return render(cmd.OutOrStdout(), msg, func(w io.Writer) error {
		fmt.Fprintln(w, msg.Content)
		writeSources(w, msg.Sources)
		return nil
	})
}

func writeSources(w io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, colorize(colorBold, "Sources:"))
	for _, s := range sources {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show and manage your question history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the conversation so far",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			msgs, err := a.desk.History(ctx, a.user(ctx))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), msgs, func(w io.Writer) error {
				if len(msgs) == 0 {
					fmt.Fprintln(w, "No questions yet. Try: kbdesk suggest")
					return nil
				}
				for _, m := range msgs {
					writeMessage(w, m)
				}
				return nil
			})
		})
	},
}

func writeMessage(w io.Writer, m conversation.Message) {
	stamp := colorize(colorFaint, m.Timestamp.Local().Format("Jan 2 15:04"))
	switch m.Role {
	case conversation.RoleUser:
		fmt.Fprintf(w, "%s %s %s\n", stamp, colorize(colorCyan, "you:"), m.Content)
	case conversation.RoleError:
		fmt.Fprintf(w, "%s %s %s %s\n", stamp, colorize(colorRed, "error:"), m.Content,
			colorize(colorFaint, "[retry: "+m.ID+"]"))
	default:
		fmt.Fprintf(w, "%s %s %s\n", stamp, colorize(colorGreen, "kb:"), m.Content)
		writeSources(w, m.Sources)
	}
	fmt.Fprintln(w)
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your conversation history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.desk.ClearHistory(ctx, a.user(ctx)); err != nil {
				return err
			}
			printSuccess("History cleared")
			return nil
		})
	},
}

var historyRetryCmd = &cobra.Command{
	Use:   "retry MESSAGE_ID",
	Short: "Re-send the question behind a failed answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			msg, err := a.desk.Retry(ctx, a.user(ctx), args[0])
			return showAnswer(cmd, msg, err)
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the conversation as an HTML page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		title, _ := cmd.Flags().GetString("title")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			msgs, err := a.desk.History(ctx, a.user(ctx))
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return conversation.RenderHTML(cmd.OutOrStdout(), title, msgs)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			if err := conversation.RenderHTML(f, title, msgs); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			printSuccess("Exported %d messages to %s", len(msgs), out)
			return nil
		})
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Show example questions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		groups := conversation.Suggestions()
		return render(cmd.OutOrStdout(), groups, func(w io.Writer) error {
			for _, g := range groups {
				fmt.Fprintln(w, colorize(colorBold, g.Category))
				for _, q := range g.Questions {
					fmt.Fprintf(w, "  %s\n", q)
				}
			}
			return nil
		})
	},
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts (admin)",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			accounts, err := a.desk.Users(ctx, a.user(ctx))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), accounts, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tCREATED")
				for _, acc := range accounts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", acc.ID, acc.Email, acc.Role, acc.CreatedAt)
				}
				return tw.Flush()
			})
		})
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Create a user account",
	Long: `Create a user account with the backend and record it in the directory.

Examples:
  kbdesk users add lecturer@uol.edu.pk --password s3cret --role user
  kbdesk users add dean@uol.edu.pk --role admin < password.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roleStr, _ := cmd.Flags().GetString("role")
		role := session.Role(roleStr)
		if !role.Valid() {
			return fmt.Errorf("unknown role %q (want user or admin)", roleStr)
		}
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			acc, err := a.desk.AddUser(ctx, a.user(ctx), args[0], password, role)
			if err != nil {
				return err
			}
			printSuccess("User %s created successfully", acc.Email)
			return render(cmd.OutOrStdout(), acc, func(w io.Writer) error {
				fmt.Fprintf(w, "%s  %s  %s\n", acc.ID, acc.Email, acc.Role)
				return nil
			})
		})
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a user account from the directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.desk.DeleteUser(ctx, a.user(ctx), args[0]); err != nil {
				return err
			}
			printSuccess("User deleted")
			return nil
		})
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage kbdesk configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets hidden)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys := config.ShowAll(cfg)
		return render(cmd.OutOrStdout(), keys, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			for _, ki := range keys {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", colorize(colorBold, ki.Key), ki.Value, colorize(colorFaint, ki.EnvVar))
			}
			return tw.Flush()
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Write a configuration value to the config file",
	Long: `Write a configuration value to the config file.

Valid keys: ` + strings.Join(config.ValidKeys(), ", ") + `

Secrets (admin password, JWT secret, Redis password) are read from the
environment or edited into the file by hand.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	signinCmd.Flags().String("password", "", "account password (read from stdin when empty)")
	signupCmd.Flags().String("password", "", "account password (read from stdin when empty)")

	docsListCmd.Flags().String("category", "", "only show this category")
	docsSearchCmd.Flags().String("category", "", "only show this category")
	docsCmd.AddCommand(docsListCmd, docsSearchCmd, docsStatsCmd, docsCategoriesCmd, docsDeleteCmd)

	uploadCmd.Flags().String("category", "", "document category (required)")
	uploadCmd.Flags().String("description", "", "optional description")

	historyExportCmd.Flags().String("out", "", "output file (stdout when empty)")
	historyExportCmd.Flags().String("title", "Knowledge base conversation", "page title")
	historyCmd.AddCommand(historyShowCmd, historyClearCmd, historyRetryCmd, historyExportCmd)

	usersAddCmd.Flags().String("password", "", "initial password (read from stdin when empty)")
	usersAddCmd.Flags().String("role", string(session.RoleUser), "account role: user or admin")
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersDeleteCmd)

	configCmd.AddCommand(configShowCmd, configSetCmd)

	rootCmd.AddCommand(signinCmd, signupCmd, signoutCmd, whoamiCmd)
	rootCmd.AddCommand(docsCmd, uploadCmd)
	rootCmd.AddCommand(askCmd, historyCmd, suggestCmd)
	rootCmd.AddCommand(usersCmd, configCmd)
}
