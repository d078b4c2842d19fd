package report

// BugReportTemplate is the default export layout. Custom templates may use
// any variable VarsFor sets.
const BugReportTemplate = `# Bug Report: {{title}}

## Summary
{{summary}}{{#if target_url}}

Target: {{target_url}}{{/if}}

## Timeline
{{timeline}}

## Reproduction Steps
{{repro_steps}}

## Expected Behavior
{{expected}}

## Actual Behavior
{{actual}}

## Test Results
- Test file: ` + "`{{test_filename}}`" + `
- Status: **{{run_status}}**{{#if reproduced}} (as expected, demonstrating the bug){{/if}}{{#if run_error}}
- Error: ` + "`{{run_error}}`" + `{{/if}}{{#if screenshot_url}}
- Screenshot: {{screenshot_url}}{{/if}}

## Suggested Fix

` + "```diff\n{{diff}}\n```" + `

## Rationale
{{rationale}}

## Risks
{{risks}}

## Generated Test
See ` + "`{{test_filename}}`" + ` for the complete Playwright test that reproduces this bug.

---
*Generated by PatchPilot*
`
