// referralctl is the command-line front end for the referral client: the
// same operations the web dashboard exposes, driven from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"referral-client/internal/factory"
	"referral-client/internal/model"
	"referral-client/internal/referral"
	"referral-client/internal/session"
	"referral-client/internal/util"
)

const usage = `usage: referralctl <command> [flags]

commands:
  register      create an account and request an OTP
  login         request an OTP for an existing account
  verify        verify an OTP and establish a session
  whoami        print the current session
  dashboard     print analytics and the live activity feed
  activity      print one page of the activity feed
  transactions  print transaction history (loads pages until exhausted)
  withdrawals   print withdrawal history
  withdraw      request a cash withdrawal
  settings      update profile fields
  logout        clear the session
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := factory.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "referralctl: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := run(ctx, f, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "referralctl: %v\n", err)
		f.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, f *factory.Factory, command string, args []string) error {
	sm := f.SessionManager()
	rm := f.ReferralManager()

	// Every command starts from the persisted session; commands that need
	// an authenticated user check for nil afterwards.
	sess, err := sm.Restore(ctx)
	if err != nil {
		return err
	}

	switch command {
	case "register":
		return cmdRegister(ctx, sm, args)
	case "login":
		return cmdLogin(ctx, sm, args)
	case "verify":
		return cmdVerify(ctx, sm, args)
	case "whoami":
		return cmdWhoami(sess)
	case "dashboard":
		return cmdDashboard(ctx, sess, rm)
	case "activity":
		return cmdActivity(ctx, sess, rm, args)
	case "transactions":
		return cmdTransactions(ctx, sess, rm)
	case "withdrawals":
		return cmdWithdrawals(ctx, sess, rm)
	case "withdraw":
		return cmdWithdraw(ctx, sess, rm, args)
	case "settings":
		return cmdSettings(ctx, sm, args)
	case "logout":
		return sm.Logout(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func requireSession(sess *model.Session) error {
	if sess == nil {
		return errors.New("not logged in; run `referralctl login` first")
	}
	return nil
}

func cmdRegister(ctx context.Context, sm *session.Manager, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email address")
	phone := fs.String("phone", "", "WhatsApp phone number")
	group := fs.String("group", "", "WhatsApp group or channel name")
	country := fs.String("country", "", "country (optional, inferred from phone)")
	fs.Parse(args)

	challenge, err := sm.Register(ctx, &model.Registration{
		Name:      *name,
		Email:     *email,
		Phone:     *phone,
		GroupName: *group,
		Country:   *country,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Account created. OTP sent to %s; run `referralctl verify -target %s -code <otp>`.\n",
		challenge.Target, challenge.Target)
	return nil
}

func cmdLogin(ctx context.Context, sm *session.Manager, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	target := fs.String("target", "", "phone number or email")
	fs.Parse(args)

	challenge, err := sm.RequestOTP(ctx, *target)
	if err != nil {
		return err
	}
	fmt.Printf("OTP sent to %s; run `referralctl verify -target %s -code <otp>`.\n",
		challenge.Target, challenge.Target)
	return nil
}

func cmdVerify(ctx context.Context, sm *session.Manager, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	target := fs.String("target", "", "phone number or email the OTP was sent to")
	code := fs.String("code", "", "6-digit OTP")
	fs.Parse(args)

	sess, err := sm.VerifyOTP(ctx, *target, *code)
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (%s)\n", sess.FullName, sess.Email)
	fmt.Printf("Referral link: %s\n", sess.ReferralLink)
	return nil
}

func cmdWhoami(sess *model.Session) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	fmt.Printf("%s <%s>\n", sess.FullName, sess.Email)
	fmt.Printf("  phone:    %s\n", sess.Phone)
	fmt.Printf("  group:    %s\n", sess.GroupName)
	fmt.Printf("  country:  %s\n", sess.Country)
	fmt.Printf("  referral: %s\n", sess.ReferralLink)
	return nil
}

func cmdDashboard(ctx context.Context, sess *model.Session, rm *referral.Manager) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	if err := rm.RefreshAll(ctx); err != nil {
		return err
	}

	snap := rm.Analytics()
	fmt.Println("Analytics")
	printMetric(snap.TotalReferrals)
	printMetric(snap.TotalPoints)
	printMetric(snap.ConversionRate)
	printMetric(snap.TotalAmount)

	entries, meta := rm.Activity()
	fmt.Printf("\nActivity (page %d of %d)\n", meta.CurrentPage, meta.LastPage)
	for _, e := range entries {
		fmt.Printf("  %s  %-20s %-10s %+d pts\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.UserName, e.Status, e.Points)
	}
	return nil
}

func printMetric(m model.AnalyticsMetric) {
	fmt.Printf("  %-16s %12.2f  (%+.1f%% this month)\n", m.Metric, m.Value, m.MonthGrowth)
}

func cmdActivity(ctx context.Context, sess *model.Session, rm *referral.Manager, args []string) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	fs := flag.NewFlagSet("activity", flag.ExitOnError)
	page := fs.Int("page", 1, "page to fetch")
	fs.Parse(args)

	if err := rm.RefreshActivityFeed(ctx, *page); err != nil {
		return err
	}
	entries, meta := rm.Activity()
	fmt.Printf("Activity (page %d of %d, %d total)\n", meta.CurrentPage, meta.LastPage, meta.Total)
	for _, e := range entries {
		fmt.Printf("  %s  %-20s %-10s %+d pts\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.UserName, e.Status, e.Points)
	}
	return nil
}

func cmdTransactions(ctx context.Context, sess *model.Session, rm *referral.Manager) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	for rm.HasMoreTransactions() {
		if _, err := rm.FetchMoreTransactions(ctx); err != nil {
			if errors.Is(err, referral.ErrNoMorePages) {
				break
			}
			return err
		}
	}

	txs := rm.Transactions()
	fmt.Printf("Transactions (%d)\n", len(txs))
	for _, tx := range txs {
		fmt.Printf("  %s  %-20s %10.2f  %-10s %+d pts\n",
			tx.CreatedAt.Format("2006-01-02"), tx.UserName, tx.Amount, tx.Status, tx.PointsEarned)
	}
	return nil
}

func cmdWithdrawals(ctx context.Context, sess *model.Session, rm *referral.Manager) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	if err := rm.RefreshWithdrawals(ctx); err != nil {
		return err
	}
	list := rm.Withdrawals()
	fmt.Printf("Withdrawals (%d)\n", len(list))
	for _, wd := range list {
		fmt.Printf("  %s  %10.2f %s  %-10s %s\n",
			wd.CreatedAt.Format("2006-01-02"), wd.Amount, wd.Currency, wd.Status, wd.ID)
	}
	return nil
}

func cmdWithdraw(ctx context.Context, sess *model.Session, rm *referral.Manager, args []string) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	amount := fs.Float64("amount", 0, "amount in the local currency")
	method := fs.String("method", model.MethodBank, "bank or mobile")
	payee := fs.String("payee", "", "account holder name")
	account := fs.String("account", "", "bank account or mobile money number")
	bank := fs.String("bank", "", "bank name (bank method only)")
	fs.Parse(args)

	created, err := rm.RequestWithdrawal(ctx, &referral.WithdrawalInput{
		Country:      sess.Country,
		Amount:       *amount,
		Method:       *method,
		PayeeName:    *payee,
		PayeeAccount: *account,
		BankName:     *bank,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Withdrawal %s submitted: %.2f %s (%d points), status %s\n",
		created.ID, created.Amount, created.Currency, created.Points, created.Status)
	return nil
}

func cmdSettings(ctx context.Context, sm *session.Manager, args []string) error {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email address")
	phone := fs.String("phone", "", "WhatsApp phone number")
	group := fs.String("group", "", "WhatsApp group or channel name")
	fs.Parse(args)

	update := &model.SettingsUpdate{}
	if *name != "" {
		update.FullName = name
	}
	if *email != "" {
		update.Email = email
	}
	if *phone != "" {
		update.Phone = phone
	}
	if *group != "" {
		update.GroupName = group
	}

	sess, err := sm.UpdateSettings(ctx, update)
	if err != nil {
		return err
	}
	util.Info("Settings saved", util.String("user_id", sess.ID))
	fmt.Printf("Settings saved for %s <%s>\n", sess.FullName, sess.Email)
	return nil
}
