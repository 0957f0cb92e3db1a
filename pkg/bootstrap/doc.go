// Package bootstrap turns an empty platform into one with a super admin.
//
// While no active super admin exists the Middleware holds all traffic:
// pages are redirected to the setup page and API calls receive 503
// setup_required. The setup endpoint registers an account and promotes it
// with profiles.Store.CreateFirstSuperAdmin, which is atomic, so concurrent
// setup attempts produce exactly one super admin. Losers have their new
// account removed and are told to sign in instead.
package bootstrap
