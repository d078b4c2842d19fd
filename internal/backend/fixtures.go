package backend

import "github.com/lucasnoah/patchpilot/internal/result"

// The sample fixtures describe one coherent bug: the "Forgot Password" link
// on a login page crashes the app after a failed sign-in. Sample returns
// clones so callers can never modify these values.

var sampleAnalysis = result.Analysis{
	Timeline: []result.TimelineEvent{
		{Timestamp: "00:00", Description: "User opens the login page"},
		{Timestamp: "00:03", Description: "User types an email address"},
		{Timestamp: "00:07", Description: "User types a password"},
		{Timestamp: "00:10", Description: "User clicks 'Sign In'"},
		{Timestamp: "00:12", Description: "'Invalid credentials' message is shown"},
		{Timestamp: "00:15", Description: "User clicks the 'Forgot Password' link"},
		{Timestamp: "00:18", Description: "Page goes blank"},
	},
	ReproSteps: []result.ReproStep{
		{Number: 1, Description: "Open https://example.com/login"},
		{Number: 2, Description: "Enter any email address"},
		{Number: 3, Description: "Enter any password"},
		{Number: 4, Description: "Click 'Sign In'"},
		{Number: 5, Description: "Wait for the 'Invalid credentials' message"},
		{Number: 6, Description: "Click 'Forgot Password' below the form"},
		{Number: 7, Description: "Observe the blank page"},
	},
	Expected:  "Clicking 'Forgot Password' opens the password reset page",
	Actual:    "The page goes blank and the console shows a TypeError",
	TargetURL: "https://example.com/login",
}

var sampleTest = result.GeneratedTest{
	Filename: "forgot-password-crash.spec.ts",
	PlaywrightSpec: `import { test, expect } from '@playwright/test';

test('forgot password link does not crash after failed sign-in', async ({ page }) => {
  const errors: string[] = [];
  page.on('pageerror', (err) => errors.push(err.message));

  await page.goto('https://example.com/login');
  await page.fill('input[type="email"]', 'someone@example.com');
  await page.fill('input[type="password"]', 'wrong-password');
  await page.click('button[type="submit"]');
  await expect(page.locator('.error-message')).toContainText('Invalid credentials');

  await page.click('a[href*="forgot-password"]');
  await page.waitForTimeout(1000);

  expect(errors).toEqual([]);
});
`,
}

var sampleRun = result.RunResult{
	Status: result.RunFailed,
	Stdout: `Running 1 test using 1 worker

  x  forgot-password-crash.spec.ts:3:5 > forgot password link does not crash after failed sign-in (3.1s)

  1 failed
    Error: expect(received).toEqual(expected)
    - Expected  - 0
    + Received  + 1
    + "Cannot read properties of undefined (reading 'returnUrl')"`,
	Stderr: `TypeError: Cannot read properties of undefined (reading 'returnUrl')
    at ForgotPasswordLink.handleClick (app/components/ForgotPasswordLink.tsx:41:36)`,
}

var samplePatch = result.PatchResult{
	Diff: `--- a/app/components/ForgotPasswordLink.tsx
+++ b/app/components/ForgotPasswordLink.tsx
@@ -38,9 +38,13 @@ export function ForgotPasswordLink() {
   const handleClick = (e: React.MouseEvent<HTMLAnchorElement>) => {
     e.preventDefault();
-    const returnUrl = router.query.returnUrl;
-    router.push(` + "`/reset-password?returnUrl=${returnUrl}`" + `);
+    const returnUrl = router.query?.returnUrl;
+    if (typeof returnUrl === 'string' && returnUrl !== '') {
+      router.push(` + "`/reset-password?returnUrl=${encodeURIComponent(returnUrl)}`" + `);
+    } else {
+      router.push('/reset-password');
+    }
   };`,
	Rationale: "router.query is undefined after a failed sign-in re-render, so reading returnUrl throws. The fix guards the lookup and falls back to the plain reset route.",
	Risks: []string{
		"Low: behaviour is unchanged when returnUrl is present",
		"The plain /reset-password route must be verified on its own",
	},
}

// SampleAnalysis returns a fresh copy of the analysis fixture.
func SampleAnalysis() *result.Analysis { return sampleAnalysis.Clone() }

// SampleTest returns a fresh copy of the generated test fixture.
func SampleTest() *result.GeneratedTest { return sampleTest.Clone() }

// SampleRun returns a fresh copy of the run fixture.
func SampleRun() *result.RunResult { return sampleRun.Clone() }

// SamplePatch returns a fresh copy of the patch fixture.
func SamplePatch() *result.PatchResult { return samplePatch.Clone() }
