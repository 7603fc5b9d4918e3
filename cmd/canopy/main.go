package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"canopy/internal/config"
	"canopy/internal/db"
	"canopy/internal/domain"
	"canopy/internal/migrate"
	"canopy/internal/monitor"
	"canopy/internal/repo"
	"canopy/internal/risk"
	"canopy/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Canopy CLI",
	Long: `Canopy scores hazardous tree-removal jobs and monitors compliance while
work is in progress.

- Assessment: 'canopy assess' combines catalog factors, environmental,
  equipment, crew, predictive, and historical sub-models into one
  composite risk score with approval gates and mitigations.
- Monitoring: active jobs accept compliance check-ins; violations and
  elevated adjusted risk raise alerts. A PPE failure always stops work.
- Workspace: the .canopy directory holds the sqlite database; canopy.yml
  next to it overrides scoring weights, thresholds, and the catalog.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CANOPY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// assessFile is the --file payload for 'canopy assess'.
type assessFile struct {
	Input domain.SiteAssessmentInput `json:"input"`
	Crew  domain.CrewProfile         `json:"crew"`
}

func assessCmd() *cobra.Command {
	var (
		file                              string
		jobID, location                   string
		species, condition                string
		height, dbh, lean, crown          float64
		wind, precip, temp, visibility    float64
		ground, timeOfDay, season         string
		hazards, access, equipment, certs []string
		crewSize                          int
		crewExperience, crewSafety        float64
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score a job site before work starts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var input domain.SiteAssessmentInput
			var crew domain.CrewProfile
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				var payload assessFile
				if err := json.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
				input, crew = payload.Input, payload.Crew
			} else {
				parsed, err := parseHazards(hazards)
				if err != nil {
					return err
				}
				input = domain.SiteAssessmentInput{
					JobID:    jobID,
					Location: location,
					Tree: domain.TreeAttributes{
						Species:       species,
						HeightFt:      height,
						DBHInches:     dbh,
						Condition:     domain.TreeCondition(condition),
						LeanAngleDeg:  lean,
						CrownRadiusFt: crown,
					},
					Environment: domain.EnvironmentReading{
						WindSpeedMph:    wind,
						PrecipitationIn: precip,
						TemperatureF:    temp,
						VisibilityMi:    visibility,
						Ground:          domain.GroundCondition(ground),
						TimeOfDay:       timeOfDay,
						Season:          season,
					},
					Hazards:   parsed,
					Access:    access,
					Equipment: equipment,
				}
				crew = domain.CrewProfile{
					Size:            crewSize,
					ExperienceLevel: crewExperience,
					Certifications:  certs,
					SafetyRecord:    crewSafety,
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e risk.Engine) error {
				a, err := e.Assess(ctx, input, crew, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				renderAssessment(a)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file with input and crew")
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&location, "location", "", "site location")
	cmd.Flags().StringVar(&species, "species", "", "tree species")
	cmd.Flags().Float64Var(&height, "height", 0, "tree height in feet")
	cmd.Flags().Float64Var(&dbh, "dbh", 0, "trunk diameter at breast height, inches")
	cmd.Flags().StringVar(&condition, "condition", "", "tree condition (healthy|declining|dying|dead)")
	cmd.Flags().Float64Var(&lean, "lean", 0, "lean angle in degrees")
	cmd.Flags().Float64Var(&crown, "crown", 0, "crown radius in feet")
	cmd.Flags().Float64Var(&wind, "wind", 0, "wind speed, mph")
	cmd.Flags().Float64Var(&precip, "precip", 0, "precipitation, inches")
	cmd.Flags().Float64Var(&temp, "temp", 0, "temperature, fahrenheit")
	cmd.Flags().Float64Var(&visibility, "visibility", 0, "visibility, miles")
	cmd.Flags().StringVar(&ground, "ground", "", "ground condition (dry|wet|frozen|unstable)")
	cmd.Flags().StringVar(&timeOfDay, "time-of-day", "", "time of day")
	cmd.Flags().StringVar(&season, "season", "", "season")
	cmd.Flags().StringArrayVar(&hazards, "hazard", nil, "proximity hazard as type:distance_ft (repeatable)")
	cmd.Flags().StringArrayVar(&access, "access", nil, "access constraint tag (repeatable)")
	cmd.Flags().StringArrayVar(&equipment, "equipment", nil, "equipment requirement (repeatable)")
	cmd.Flags().IntVar(&crewSize, "crew-size", 0, "crew size")
	cmd.Flags().Float64Var(&crewExperience, "crew-experience", 0, "average crew experience, years")
	cmd.Flags().StringArrayVar(&certs, "crew-cert", nil, "crew certification (repeatable)")
	cmd.Flags().Float64Var(&crewSafety, "crew-safety", 0, "crew safety record, 0-100")
	return cmd
}

func parseHazards(raw []string) ([]domain.ProximityHazard, error) {
	var out []domain.ProximityHazard
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("hazard %q: want type:distance_ft", h)
		}
		dist, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("hazard %q: bad distance: %w", h, err)
		}
		out = append(out, domain.ProximityHazard{Type: parts[0], Distance: dist})
	}
	return out, nil
}

func renderAssessment(a domain.RiskAssessment) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Job", "Composite", "Level", "Confidence", "Proceed"})
	tw.AppendRow(table.Row{a.JobID, fmt.Sprintf("%.2f", a.CompositeScore), a.Level,
		fmt.Sprintf("%.2f", a.Confidence), a.ProceedAuthorization})
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Sub-model", "Score"})
	tw.AppendRow(table.Row{"domain", a.DomainScore})
	tw.AppendRow(table.Row{"environmental", fmt.Sprintf("%.1f", a.SubScores.Environmental)})
	tw.AppendRow(table.Row{"equipment", fmt.Sprintf("%.1f", a.SubScores.Equipment)})
	tw.AppendRow(table.Row{"crew", fmt.Sprintf("%.1f", a.SubScores.Crew)})
	tw.AppendRow(table.Row{"predictive", fmt.Sprintf("%.1f", a.SubScores.Predictive)})
	tw.AppendRow(table.Row{"historical", fmt.Sprintf("%.1f", a.SubScores.Historical)})
	tw.Render()

	if len(a.Mitigations) > 0 {
		tw = table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Priority", "Timing", "Mitigation"})
		for _, m := range a.Mitigations {
			tw.AppendRow(table.Row{m.Priority, m.Timing, m.Strategy})
		}
		tw.Render()
	}

	var gates []string
	if a.Approvals.ManagerApproval {
		gates = append(gates, "manager approval")
	}
	if a.Approvals.SafetyOfficerApproval {
		gates = append(gates, "safety officer approval")
	}
	if a.Approvals.ClientNotification {
		gates = append(gates, "client notification")
	}
	if a.Approvals.AdditionalInsurance {
		gates = append(gates, "additional insurance")
	}
	if a.Approvals.DelayRecommended {
		gates = append(gates, "DELAY RECOMMENDED")
	}
	if len(gates) > 0 {
		fmt.Println("Required:", strings.Join(gates, ", "))
	}
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Inspect the risk factor catalog"}
	var domainFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog factors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e risk.Engine) error {
				var factors []domain.RiskFactor
				if domainFilter != "" {
					d := domain.RiskDomain(domainFilter)
					if !d.IsValid() {
						return fmt.Errorf("unknown domain %q", domainFilter)
					}
					factors = e.Catalog.DomainFactors(d)
				} else {
					for _, d := range domain.Domains() {
						factors = append(factors, e.Catalog.DomainFactors(d)...)
					}
				}
				if viper.GetBool("json") {
					return printJSON(factors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Code", "Name", "Base Weight", "Risk Weight"})
				for _, f := range factors {
					tw.AppendRow(table.Row{f.Domain, f.Code, f.Name, fmt.Sprintf("%.2f", f.BaseWeight), f.RiskWeight})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&domainFilter, "domain", "", "filter by domain")
	cat.AddCommand(list)
	return cat
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobTransitionCmd("start", "Start work on an assessed job", func(ctx context.Context, e risk.Engine, id, actor string) (domain.Job, error) {
		return e.StartJob(ctx, id, actor)
	}))
	job.AddCommand(jobTransitionCmd("complete", "Complete an active job", func(ctx context.Context, e risk.Engine, id, actor string) (domain.Job, error) {
		return e.CompleteJob(ctx, id, actor)
	}))
	job.AddCommand(jobTransitionCmd("cancel", "Cancel a pending or active job", func(ctx context.Context, e risk.Engine, id, actor string) (domain.Job, error) {
		return e.CancelJob(ctx, id, actor)
	}))
	return job
}

func jobListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx, domain.JobStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Location", "Status", "Updated"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Location, j.Status, j.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job, its assessment, and monitoring state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"job": j}
				if a, err := r.GetAssessmentByJob(ctx, j.ID); err == nil {
					out["assessment"] = a
				}
				if state, err := r.GetMonitorState(ctx, j.ID); err == nil {
					out["monitor"] = state
				}
				return printJSON(out)
			})
		},
	}
	return cmd
}

func jobTransitionCmd(use, short string, fn func(context.Context, risk.Engine, string, string) (domain.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e risk.Engine) error {
				j, err := fn(ctx, e, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(j)
			})
		},
	}
}

func snapshotCmd() *cobra.Command {
	snap := &cobra.Command{Use: "snapshot", Short: "Compliance check-ins"}
	var (
		file                    string
		ppe, equip, site        bool
		emergency, hazardID     bool
		wind, precip, temp, vis float64
		ground                  string
		crewOnSite              []string
	)
	submit := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Submit a compliance check-in for an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			var s domain.ComplianceSnapshot
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &s); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			} else {
				s = domain.ComplianceSnapshot{
					Timestamp: time.Now().UTC(),
					Checklist: domain.Checklist{
						PPECompliance:        ppe,
						EquipmentInspection:  equip,
						SiteSecuring:         site,
						EmergencyPlanReview:  emergency,
						HazardIdentification: hazardID,
					},
					Environment: domain.EnvironmentReading{
						WindSpeedMph:    wind,
						PrecipitationIn: precip,
						TemperatureF:    temp,
						VisibilityMi:    vis,
						Ground:          domain.GroundCondition(ground),
					},
					CrewOnSite: crewOnSite,
				}
			}
			s.JobID = jobID
			return withEngine(cmd.Context(), func(ctx context.Context, e risk.Engine) error {
				j, err := e.Repo.GetJob(ctx, jobID)
				if err != nil {
					return err
				}
				if j.Status != domain.JobActive {
					return fmt.Errorf("job %s is %s; snapshots require an active job", jobID, j.Status)
				}
				mgr := monitor.NewManager(e.DB, e.Config)
				defer mgr.Shutdown()
				if err := mgr.Start(ctx, jobID); err != nil {
					return err
				}
				res, err := mgr.Submit(ctx, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderTick(res)
				return nil
			})
		},
	}
	submit.Flags().StringVar(&file, "file", "", "JSON snapshot file")
	submit.Flags().BoolVar(&ppe, "ppe", false, "PPE compliance check passed")
	submit.Flags().BoolVar(&equip, "equipment-inspection", false, "equipment inspection passed")
	submit.Flags().BoolVar(&site, "site-securing", false, "site securing passed")
	submit.Flags().BoolVar(&emergency, "emergency-plan", false, "emergency plan review passed")
	submit.Flags().BoolVar(&hazardID, "hazard-identification", false, "hazard identification passed")
	submit.Flags().Float64Var(&wind, "wind", 0, "wind speed, mph")
	submit.Flags().Float64Var(&precip, "precip", 0, "precipitation, inches")
	submit.Flags().Float64Var(&temp, "temp", 0, "temperature, fahrenheit")
	submit.Flags().Float64Var(&vis, "visibility", 0, "visibility, miles")
	submit.Flags().StringVar(&ground, "ground", "", "ground condition")
	submit.Flags().StringArrayVar(&crewOnSite, "crew", nil, "crew member on site (repeatable)")
	snap.AddCommand(submit)
	return snap
}

func renderTick(res domain.TickResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Job", "Continue", "Compliance", "Crew", "Adjusted", "Level"})
	tw.AppendRow(table.Row{res.JobID, res.ContinueWork,
		fmt.Sprintf("%.0f%%", res.ComplianceScore), fmt.Sprintf("%.0f", res.CrewScore),
		fmt.Sprintf("%.2f", res.AdjustedScore), res.AdjustedLevel})
	tw.Render()
	for _, v := range res.Violations {
		fmt.Printf("violation [%s] %s\n", v.Severity, v.Item)
	}
	for _, a := range res.Alerts {
		fmt.Printf("alert [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
	if !res.ContinueWork {
		fmt.Println("STOP WORK: critical violation present")
	}
}

func alertsCmd() *cobra.Command {
	var jobID string
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				alerts, err := r.ListAlerts(ctx, jobID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Created", "Job", "Type", "Severity", "Message"})
				for _, a := range alerts {
					tw.AppendRow(table.Row{a.CreatedAt, a.JobID, a.Type, a.Severity, a.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "filter by job id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max alerts")
	return cmd
}

func incidentCmd() *cobra.Command {
	inc := &cobra.Command{Use: "incident", Short: "Historical incident records"}
	var (
		location, severity, description, occurredAt string
		tags                                        []string
	)
	record := &cobra.Command{
		Use:   "record",
		Short: "Record a historical incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e risk.Engine) error {
				rec, err := e.RecordIncident(ctx, domain.IncidentRecord{
					Location:    location,
					Tags:        tags,
					Severity:    severity,
					Description: description,
					OccurredAt:  occurredAt,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	record.Flags().StringVar(&location, "location", "", "incident location")
	record.Flags().StringArrayVar(&tags, "tag", nil, "condition tag (repeatable)")
	record.Flags().StringVar(&severity, "severity", "", "severity (low|medium|high)")
	record.Flags().StringVar(&description, "description", "", "what happened")
	record.Flags().StringVar(&occurredAt, "occurred-at", "", "RFC3339 timestamp")
	_ = record.MarkFlagRequired("location")
	inc.AddCommand(record)

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				recs, err := r.ListIncidents(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(recs)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max incidents")
	inc.AddCommand(list)
	return inc
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (raw key shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e risk.Engine) error {
				k, raw, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				fmt.Printf("id: %s\nactor: %s\nkey: %s\n", k.ID, k.ActorID, raw)
				fmt.Println("Store the key now; only its hash is kept.")
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key label")
	_ = create.MarkFlagRequired("actor")
	key.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	key.AddCommand(list)

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	key.AddCommand(revoke)
	return key
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Audit event log"}
	var jobID string
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, jobID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Job", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.JobID, e.EntityKind, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&jobID, "job", "", "filter by job id")
	tail.Flags().IntVar(&limit, "limit", 50, "max events")
	logRoot.AddCommand(tail)
	return logRoot
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default canopy.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("canopy")), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite existing file")
	cfg.AddCommand(initCmd)

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
	cfg.AddCommand(show)
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and monitoring loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e, err := risk.New(conn, cfg)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CANOPY_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CANOPY_JWT_SECRET is required for bearer auth")
			}

			mgr := monitor.NewManager(conn, cfg)
			if err := mgr.Resume(cmd.Context()); err != nil {
				return err
			}
			defer mgr.Shutdown()
			sweeper, err := mgr.StartSweep(cmd.Context())
			if err != nil {
				return err
			}
			defer sweeper.Stop()

			handler, err := server.New(server.Config{Engine: e, Monitor: mgr, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Canopy API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, risk.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e, err := risk.New(conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
