// Package stats computes per-variant conversion statistics and decides
// experiment winners.
//
// Everything here is a pure function of the counts it is given; loading those
// counts from assignments and events is the experiment package's job.
//
// Intervals use the Wald approximation at 95% confidence by default. A winner
// is only called when every variant has enough participants and a challenger's
// interval lies strictly above control's, so small or noisy samples yield no
// decision rather than a premature one. The exact test is a policy choice;
// swap Config.Z or MinParticipants to tighten or relax it.
package stats
