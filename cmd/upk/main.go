package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upkeep/internal/app"
	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/domain"
	"upkeep/internal/repo"
	"upkeep/internal/scheduler"
	"upkeep/internal/server"
	"upkeep/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "upk",
	Short: "Upkeep maintenance orchestrator",
	Long: `Upkeep turns maintenance cycles into scheduled per-building jobs, provisions
tasks for them in the task service, and escalates crack reports into repair tasks.
Core concepts:
- Cycle: an operator template (device type + Daily/Weekly/Monthly/Yearly frequency).
- Schedule: one expansion of a cycle; it holds one job per building and ends after the horizon.
- Job: one building's occurrence; Pending -> InProgress (activation) -> Completed.
  Completing a job seeds its successor at the next run date.
- Provisioning: creating a task and assigning it to the building manager; tracked
  in a ledger so failed assignments can be resumed without duplicate tasks.
- Sweeps: activate (due jobs), expand (all cycles), resume (unfinished provisioning).
  'upk serve' runs them on cron; 'upk sweep' runs one now.
- Event log: every state change, view with 'upk log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("UPKEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/upkeep.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "operator", "actor identifier recorded in events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(crackCmd())
	rootCmd.AddCommand(provisioningCmd())
	rootCmd.AddCommand(logCmd())
}

func appOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func actor() string {
	return viper.GetString("actor-id")
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage upkeep.yml",
		Long:  "upkeep.yml holds service endpoints, notification transport, sweep crons and the API listener. Secrets can come from UPKEEP_* env vars instead.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default upkeep.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config (secrets hidden)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(appOptions())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(appOptions())
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the operator API and the sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Ping(ctx); err != nil {
					return fmt.Errorf("notification transport: %w", err)
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				var sched *scheduler.Scheduler
				if !noScheduler {
					s, err := a.Scheduler()
					if err != nil {
						return err
					}
					s.Start(ctx)
					defer s.Stop()
					sched = s
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Scheduler: sched,
					BasePath:  basePath,
					Auth:      server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret, Logger: a.Logger},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving upkeep API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs", "scheduler", sched != nil)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without running sweeps on cron")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep <" + strings.Join(scheduler.Names(), "|") + ">",
		Short:     "Run one sweep now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scheduler.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				res, err := scheduler.NewRunner(e, e.Logger).Run(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if res.Activation != nil {
					return printSweep(*res.Activation)
				}
				r := res.Expansion
				if viper.GetBool("json") {
					return printJSON(r)
				}
				tw := newTable("Cycle", "Schedule", "Jobs", "Failed", "Skipped")
				for _, x := range r.Results {
					scheduleID := ""
					if x.Schedule != nil {
						scheduleID = x.Schedule.ID
					}
					tw.AppendRow(table.Row{x.CycleID, scheduleID, x.Created, x.Failed, x.Skipped})
				}
				tw.AppendFooter(table.Row{fmt.Sprintf("%d cycles", r.Cycles), fmt.Sprintf("%d expanded", r.Expanded), "", r.Failed, r.Skipped})
				tw.Render()
				return nil
			})
		},
	}
}

func printSweep(r workflow.SweepReport) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	fmt.Printf("%s: due=%d ok=%d failed=%d skipped=%d\n", r.Sweep, r.Due, r.Activated, r.Failed, r.Skipped)
	if len(r.Errors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tw := newTable("Job", "Error")
	for _, id := range ids {
		tw.AppendRow(table.Row{id, r.Errors[id]})
	}
	tw.Render()
	return nil
}

func cycleCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cycle",
		Short: "Manage maintenance cycles",
		Long:  "A cycle is a template: device type plus frequency. Expanding it creates a schedule with one job per building, starting today.",
	}
	c.AddCommand(cycleCreateCmd())
	c.AddCommand(cycleListCmd())
	c.AddCommand(cycleShowCmd())
	c.AddCommand(cycleExpandCmd())
	return c
}

func cycleCreateCmd() *cobra.Command {
	var in domain.MaintenanceCycle
	var freq string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Frequency = domain.Frequency(freq)
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				c, err := e.CreateCycle(ctx, in, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "cycle id (default: generated)")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name (default: device type)")
	cmd.Flags().StringVar(&in.DeviceType, "device-type", "", "device type, e.g. elevator")
	cmd.Flags().StringVar(&freq, "frequency", "", "Daily, Weekly, Monthly or Yearly")
	cmd.Flags().StringVar(&in.Basis, "basis", "", "free-form basis (regulation, vendor advice)")
	_ = cmd.MarkFlagRequired("device-type")
	_ = cmd.MarkFlagRequired("frequency")
	return cmd
}

func cycleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListCycles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Device", "Frequency", "Created")
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.DeviceType, c.Frequency, c.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func cycleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show a cycle and its latest schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				c, err := e.Repo.GetCycle(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"cycle": c}
				latest, err := e.Repo.LatestScheduleForCycle(ctx, c.ID)
				switch {
				case err == nil:
					out["latest_schedule"] = latest
				case !errors.Is(err, repo.ErrNotFound):
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func cycleExpandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand <cycle-id>",
		Short: "Expand a cycle into a new schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				exp, err := e.ExpandCycle(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(exp)
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	s := &cobra.Command{Use: "schedule", Short: "Inspect schedules"}
	s.AddCommand(scheduleListCmd())
	s.AddCommand(scheduleJobsCmd())
	s.AddCommand(scheduleReconcileCmd())
	return s
}

func scheduleListCmd() *cobra.Command {
	var f repo.ScheduleFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListSchedules(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Cycle", "Status", "Start", "End")
				for _, s := range items {
					end := ""
					if s.EndDate != nil {
						end = s.EndDate.Format(domain.DateLayout)
					}
					tw.AppendRow(table.Row{s.ID, s.CycleID, s.Status, s.StartDate.Format(domain.DateLayout), end})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CycleID, "cycle", "", "cycle id filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func scheduleJobsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "jobs <schedule-id>",
		Short: "List the jobs of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if _, err := e.Repo.GetSchedule(ctx, args[0]); err != nil {
					return err
				}
				items, err := e.Repo.ListJobs(ctx, repo.JobFilters{ScheduleID: args[0], Status: status})
				if err != nil {
					return err
				}
				return printJobs(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func scheduleReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <schedule-id>",
		Short: "Recompute a schedule's status from its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.ReconcileSchedule(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func jobCmd() *cobra.Command {
	j := &cobra.Command{
		Use:   "job",
		Short: "Work with schedule jobs",
		Long:  "Jobs move Pending -> InProgress -> Completed. Activation provisions a task for the building manager and notifies residents; completion seeds the next occurrence.",
	}
	j.AddCommand(jobListCmd())
	j.AddCommand(jobActivateCmd())
	j.AddCommand(jobCompleteCmd())
	j.AddCommand(jobProvisioningCmd())
	return j
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range []struct {
				raw string
				dst **time.Time
			}{{from, &f.From}, {to, &f.To}} {
				if b.raw == "" {
					continue
				}
				t, err := time.Parse(domain.DateLayout, b.raw)
				if err != nil {
					return fmt.Errorf("invalid date %q: want YYYY-MM-DD", b.raw)
				}
				*b.dst = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				return printJobs(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.BuildingID, "building", "", "building id filter")
	cmd.Flags().StringVar(&from, "from", "", "run date from (inclusive, YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "run date to (exclusive, YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func jobActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <job-id>",
		Short: "Activate a pending job now, regardless of its run date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				act, err := e.ActivateJob(ctx, args[0], actor())
				if err != nil {
					if act.Job.ID != "" {
						_ = printJSONOrTable(act)
					}
					return err
				}
				return printJSONOrTable(act)
			})
		},
	}
}

func jobCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <job-id>",
		Short: "Complete an in-progress job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				c, err := e.CompleteJob(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func jobProvisioningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provisioning <job-id>",
		Short: "Show the task provisioning record of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				rec, err := e.Repo.GetProvisioning(ctx, domain.OriginJob, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func printJobs(items []domain.ScheduleJob) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Schedule", "Building", "Run date", "Status", "Successor")
	for _, j := range items {
		tw.AppendRow(table.Row{j.ID, j.ScheduleID, j.BuildingID, j.RunDate.Format(domain.DateLayout), j.Status, j.SuccessionCreated})
	}
	tw.Render()
	return nil
}

func crackCmd() *cobra.Command {
	c := &cobra.Command{Use: "crack", Short: "Crack report escalation"}
	c.AddCommand(crackEscalateCmd())
	return c
}

func crackEscalateCmd() *cobra.Command {
	var managerID string
	cmd := &cobra.Command{
		Use:   "escalate <report-id>",
		Short: "Create and assign a repair task, then mark the report InProgress",
		Long:  "The report only moves to InProgress once both the task and its assignment exist. A failed escalation leaves it Pending and can be retried; an already created task is reused.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				esc, err := e.EscalateCrack(ctx, args[0], managerID, actor())
				if err != nil {
					if step := workflow.FailedStep(err); step != "" {
						return fmt.Errorf("escalation stopped at %s: %w", step, err)
					}
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&managerID, "manager-id", "", "assign to this employee instead of the building manager")
	return cmd
}

func provisioningCmd() *cobra.Command {
	p := &cobra.Command{Use: "provisioning", Short: "Inspect the task provisioning ledger"}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List provisioning records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListProvisioning(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Kind", "Origin", "Status", "Task", "Assignment", "Employee", "Attempts", "Message")
				for _, r := range items {
					tw.AppendRow(table.Row{r.OriginKind, r.OriginID, r.Status, deref(r.TaskID), deref(r.AssignmentID), deref(r.EmployeeID), r.Attempts, r.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "in_flight, task_created, completed, assignment_failed or failed")
	p.AddCommand(list)
	return p
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every state change the orchestrator makes: cycles, schedules, job transitions, provisioning outcomes and escalations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "cycle, schedule, job or crack")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
