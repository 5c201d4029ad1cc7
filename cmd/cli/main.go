package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/internal/config"
	"github.com/rizoma-coop/tapir/pkg/clients/calendarclient"
	"github.com/rizoma-coop/tapir/pkg/clients/gmailclient"
	"github.com/rizoma-coop/tapir/pkg/core/services"
	"github.com/rizoma-coop/tapir/pkg/db"
	"github.com/rizoma-coop/tapir/pkg/postgres"
	"github.com/rizoma-coop/tapir/pkg/utils/logging"
)

// App holds the application dependencies
type App struct {
	cfg         *config.Config
	oauthCfg    *config.OAuthClientConfig
	gmailClient *gmailclient.Client
	notifier    services.Notifier
	calendar    services.CalendarSync
	database    *postgres.DB
	settings    services.Settings
	logger      *zap.Logger
	ctx         context.Context
}

var (
	env       string
	actorID   string
	asManager bool
	app       *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tapir",
		Short: "Tapir CLI - Manage cooperative shifts",
		Long:  `A CLI tool for managing cooperative shift schedules, attendances, shift accounts and membership status.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				if app.database != nil {
					app.database.Close()
				}
				if app.logger != nil {
					app.logger.Sync()
				}
			}
		},
	}

	// Add persistent flags
	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.MarkPersistentFlagRequired("env")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "Member ID performing the action (empty for scheduled jobs)")
	rootCmd.PersistentFlags().BoolVar(&asManager, "manager", false, "Run the action with shift manager permissions")

	// Add all commands
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateShiftsCmd())
	rootCmd.AddCommand(updateTemplateShiftsCmd())
	rootCmd.AddCommand(runFreezeChecksCmd())
	rootCmd.AddCommand(applyCycleStartCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(registerRecurringCmd())
	rootCmd.AddCommand(unregisterRecurringCmd())
	rootCmd.AddCommand(setAttendanceStateCmd())
	rootCmd.AddCommand(selfUnregisterCmd())
	rootCmd.AddCommand(lookForStandInCmd())
	rootCmd.AddCommand(createExemptionCmd())
	rootCmd.AddCommand(convertExemptionCmd())
	rootCmd.AddCommand(createPauseCmd())
	rootCmd.AddCommand(giveSolidarityCmd())
	rootCmd.AddCommand(useSolidarityCmd())
	rootCmd.AddCommand(freezeCmd())
	rootCmd.AddCommand(unfreezeCmd())
	rootCmd.AddCommand(balanceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, clients, and database
func initApp() error {
	var err error
	app = &App{
		ctx: context.Background(),
	}

	// Initialize logger
	app.logger, err = logging.InitLogger(env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger.Info("Starting application", zap.String("environment", env))

	// Load configuration
	app.logger.Info("Loading configuration")
	app.cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.settings, err = app.cfg.Settings()
	if err != nil {
		return fmt.Errorf("failed to build settings: %w", err)
	}
	app.logger.Debug("Configuration loaded successfully")

	// Load OAuth client configuration
	app.logger.Info("Loading OAuth client configuration")
	app.oauthCfg, err = config.LoadOAuthClientWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load OAuth client config: %w", err)
	}
	app.logger.Debug("OAuth configuration loaded successfully")

	// Connect to the database and apply pending migrations
	app.logger.Info("Connecting to database")
	app.database, err = postgres.NewDB(app.ctx, app.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := app.database.RunMigrations(app.ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	app.logger.Info("Database initialized successfully")

	// Initialize gmail client and the email notifier
	app.logger.Info("Initializing gmail client")
	app.gmailClient, err = gmailclient.NewClient(app.ctx, app.oauthCfg, app.cfg.GmailSender, env)
	if err != nil {
		return fmt.Errorf("failed to create gmail client: %w", err)
	}
	app.notifier = gmailclient.NewNotifier(app.gmailClient, app.database)
	app.logger.Debug("Gmail client initialized successfully")

	// Initialize calendar sync when a calendar is configured
	if app.cfg.CalendarID != "" {
		app.logger.Info("Initializing calendar client", zap.String("calendar_id", app.cfg.CalendarID))
		calendarClient, err := calendarclient.NewClient(app.ctx, app.oauthCfg, app.gmailClient.Token(), app.cfg.CalendarID)
		if err != nil {
			return fmt.Errorf("failed to create calendar client: %w", err)
		}
		app.calendar = calendarClient
		app.logger.Debug("Calendar client initialized successfully")
	}

	return nil
}

// actor builds the acting identity from the persistent flags
func actor() services.Actor {
	return services.Actor{
		UserID:          actorID,
		CanManageShifts: asManager,
	}
}

func parseDate(value string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return parsed, nil
}

// Command definitions

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Migrations already ran in initApp
			fmt.Println("Database schema is up to date.")
			return nil
		},
	}
}

func generateShiftsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generateShifts",
		Short: "Generate concrete shifts from templates up to the configured horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.GenerateShiftsUpTo(app.ctx, app.database, app.logger, app.settings, services.GenerateOptions{})
			if err != nil {
				return err
			}

			fmt.Printf("\nShift generation completed!\n\n")
			fmt.Printf("Created shifts:  %d\n", len(result.CreatedShifts))
			fmt.Printf("Already existed: %d\n\n", result.SkippedExisting)

			return nil
		},
	}
}

func updateTemplateShiftsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "updateTemplateShifts <template_id>",
		Short: "Push template changes to its future generated shifts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.UpdateFutureGeneratedShifts(app.ctx, app.database, app.logger, args[0], time.Now()); err != nil {
				return err
			}

			fmt.Println("Future shifts updated.")
			return nil
		},
	}
}

func runFreezeChecksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runFreezeChecks",
		Short: "Apply the freeze policy to all members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.RunFreezeChecks(app.ctx, app.database, app.logger, app.notifier, app.settings, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("\nFreeze checks completed!\n\n")
			fmt.Printf("Frozen:   %d\n", result.Frozen)
			fmt.Printf("Unfrozen: %d\n", result.Unfrozen)
			fmt.Printf("Warned:   %d\n\n", result.Warned)

			return nil
		},
	}
}

func applyCycleStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applyCycleStart <cycle_date>",
		Short: "Book the cycle requirement onto every member's shift account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycleStart, err := parseDate(args[0])
			if err != nil {
				return err
			}

			result, err := services.ApplyCycleStart(app.ctx, app.database, app.logger, cycleStart, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("\nCycle start applied!\n\n")
			fmt.Printf("Charged: %d\n", result.Charged)
			fmt.Printf("Skipped: %d\n\n", result.Skipped)

			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <slot_id> <member_id>",
		Short: "Register a member to a shift slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attendance, err := services.RegisterToSlot(app.ctx, app.database, app.logger, app.notifier, app.calendar, actor(), args[0], args[1], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Registered. Attendance ID: %s\n", attendance.ID)
			return nil
		},
	}
}

func registerRecurringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registerRecurring <slot_template_id> <member_id>",
		Short: "Register a member to a recurring slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := services.RegisterToSlotTemplate(app.ctx, app.database, app.logger, actor(), args[0], args[1], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Registered. Attendance template ID: %s\n", template.ID)
			return nil
		},
	}
}

func unregisterRecurringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregisterRecurring <attendance_template_id>",
		Short: "Remove a recurring slot registration and cancel its future attendances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")

			if err := services.UnregisterFromSlotTemplate(app.ctx, app.database, app.logger, actor(), args[0], reason, time.Now()); err != nil {
				return err
			}

			fmt.Println("Recurring registration removed.")
			return nil
		},
	}

	cmd.Flags().String("reason", "", "Reason recorded in the audit log")

	return cmd
}

func setAttendanceStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setAttendanceState <attendance_id> <state>",
		Short: "Set the state of an attendance (done, missed, missed_excused, cancelled, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")

			err := services.SetAttendanceState(app.ctx, app.database, app.logger, app.notifier, app.calendar,
				app.settings, actor(), args[0], db.AttendanceState(args[1]), description, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Attendance set to %s.\n", args[1])
			return nil
		},
	}

	cmd.Flags().String("description", "", "Optional description, e.g. an excuse reason")

	return cmd
}

func selfUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selfUnregister <attendance_id>",
		Short: "Cancel your own registration ahead of the shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := services.SetAttendanceState(app.ctx, app.database, app.logger, app.notifier, app.calendar,
				app.settings, actor(), args[0], db.AttendanceCancelled, "", time.Now())
			if err != nil {
				return err
			}

			fmt.Println("Registration cancelled.")
			return nil
		},
	}
}

func lookForStandInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookForStandIn <attendance_id>",
		Short: "Offer your shift slot to other members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := services.SetAttendanceState(app.ctx, app.database, app.logger, app.notifier, app.calendar,
				app.settings, actor(), args[0], db.AttendanceLookingForStandIn, "", time.Now())
			if err != nil {
				return err
			}

			fmt.Println("Slot offered to other members.")
			return nil
		},
	}
}

func exemptionInputFromFlags(cmd *cobra.Command, args []string) (services.ExemptionInput, error) {
	description, _ := cmd.Flags().GetString("description")
	endValue, _ := cmd.Flags().GetString("end")
	confirmCancellations, _ := cmd.Flags().GetBool("confirm-cancellations")
	confirmTemplateDeletion, _ := cmd.Flags().GetBool("confirm-unregister")

	startDate, err := parseDate(args[1])
	if err != nil {
		return services.ExemptionInput{}, err
	}

	var endDate *time.Time
	if endValue != "" {
		parsed, err := parseDate(endValue)
		if err != nil {
			return services.ExemptionInput{}, err
		}
		endDate = &parsed
	}

	return services.ExemptionInput{
		UserID:                  args[0],
		Description:             description,
		StartDate:               startDate,
		EndDate:                 endDate,
		ConfirmCancellations:    confirmCancellations,
		ConfirmTemplateDeletion: confirmTemplateDeletion,
	}, nil
}

func addExemptionFlags(cmd *cobra.Command) {
	cmd.Flags().String("description", "", "Reason for the exemption")
	cmd.Flags().String("end", "", "End date (YYYY-MM-DD), omit for open-ended")
	cmd.Flags().Bool("confirm-cancellations", false, "Confirm cancelling covered attendances")
	cmd.Flags().Bool("confirm-unregister", false, "Confirm removing recurring registrations")
}

func createExemptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createExemption <member_id> <start_date>",
		Short: "Exempt a member from shift duty for a date range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := exemptionInputFromFlags(cmd, args)
			if err != nil {
				return err
			}

			exemption, err := services.CreateExemption(app.ctx, app.database, app.logger, actor(), app.settings, input, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Exemption created. ID: %s\n", exemption.ID)
			return nil
		},
	}

	addExemptionFlags(cmd)

	return cmd
}

func convertExemptionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convertExemption <exemption_id>",
		Short: "Convert an exemption into a membership pause",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pause, err := services.ConvertExemptionToPause(app.ctx, app.database, app.logger, actor(), args[0], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Converted to membership pause. ID: %s\n", pause.ID)
			return nil
		},
	}
}

func createPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createPause <member_id> <start_date>",
		Short: "Pause a membership for a date range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := exemptionInputFromFlags(cmd, args)
			if err != nil {
				return err
			}

			pause, err := services.CreateMembershipPause(app.ctx, app.database, app.logger, actor(), app.settings, input, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Membership pause created. ID: %s\n", pause.ID)
			return nil
		},
	}

	addExemptionFlags(cmd)

	return cmd
}

func giveSolidarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "giveSolidarity <member_id>",
		Short: "Donate the member's most recent completed shift as a solidarity shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			solidarity, err := services.GiveSolidarityShift(app.ctx, app.database, app.logger, app.settings, actor(), args[0], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Solidarity shift given. ID: %s\n", solidarity.ID)
			return nil
		},
	}
}

func useSolidarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "useSolidarity <member_id>",
		Short: "Credit the member with an available solidarity shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			solidarity, err := services.UseSolidarityShift(app.ctx, app.database, app.logger, app.settings, actor(), args[0], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Solidarity shift used. ID: %s\n", solidarity.ID)
			return nil
		},
	}
}

func freezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <member_id>",
		Short: "Manually freeze a member's shift status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.FreezeMember(app.ctx, app.database, app.logger, app.notifier, actor(), args[0], time.Now()); err != nil {
				return err
			}

			fmt.Println("Member frozen.")
			return nil
		},
	}
}

func unfreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfreeze <member_id>",
		Short: "Manually unfreeze a member's shift status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.UnfreezeMember(app.ctx, app.database, app.logger, app.notifier, actor(), args[0], time.Now()); err != nil {
				return err
			}

			fmt.Println("Member unfrozen.")
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <member_id>",
		Short: "Show a member's shift account balance and recent entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := app.database.GetAccountBalance(app.ctx, args[0], nil)
			if err != nil {
				return err
			}

			entries, err := app.database.GetAccountEntriesForUser(app.ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\nBalance for %s: %+d\n\n", args[0], balance)

			limit := 10
			if len(entries) < limit {
				limit = len(entries)
			}
			for _, entry := range entries[:limit] {
				fmt.Printf("  %s  %+d  %s\n", entry.Date.Format("2006-01-02"), entry.Value, entry.Description)
			}
			fmt.Println()

			return nil
		},
	}
}
