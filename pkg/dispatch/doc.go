/*
Package dispatch fans persisted notifications out to the delivery channels.

For each notification the dispatcher loads the user and picks the email
channel from their preferences: immediate (test users, or instant
notifications with a valid address), digest (email notifications on and a
digest frequency other than never), or none. A successful immediate publish
flips the row's email_sent flag; digest email is batched downstream and the
flag stays false.

A realtime event is published for every notification regardless of the email
outcome, keyed by user id to preserve per-user ordering. Realtime failures
are logged and swallowed; they never hold up the message acknowledgement.
*/
package dispatch
